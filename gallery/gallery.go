// Package gallery renders stored photos as an HTML gallery with one export
// control per photo.
package gallery

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"autocapture/photo"
	"autocapture/storage"
)

// DefaultWidth is the display width of a gallery image in pixels.
const DefaultWidth = 200

// Item is one rendered photo.
type Item struct {
	ID          int64
	Src         template.URL // the stored data URL
	Width       int
	DownloadURL string
	CapturedAt  time.Time
}

// Options control rendering.
type Options struct {
	Width int
	// DownloadURL builds the export link for a photo id.
	DownloadURL func(id int64) string
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.DownloadURL == nil {
		o.DownloadURL = func(id int64) string {
			return "/photos/" + strconv.FormatInt(id, 10) + "/download"
		}
	}
	return o
}

// Load performs one bulk read and maps every photo to an Item, in store
// order. An empty store yields no items and no error.
func Load(ctx context.Context, store storage.Store, opts Options, log *zap.Logger) ([]Item, error) {
	photos, err := store.All(ctx)
	if err != nil {
		log.Error("reading photos failed", zap.Error(err))
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	opts = opts.withDefaults()
	items := make([]Item, 0, len(photos))
	for _, p := range photos {
		items = append(items, Item{
			ID: p.ID,
			// validated at the storage boundary, safe to use as an img src
			Src:         template.URL(p.Data),
			Width:       opts.Width,
			DownloadURL: opts.DownloadURL(p.ID),
			CapturedAt:  p.CapturedAt(),
		})
	}
	return items, nil
}

var itemsTmpl = template.Must(template.New("items").Parse(
	`{{range .}}<div class="photo" data-id="{{.ID}}"><img src="{{.Src}}" alt="photo {{.ID}}" style="width: {{.Width}}px; margin: 10px"><a class="save" href="{{.DownloadURL}}" download><button type="button">Save</button></a></div>
{{end}}`))

// Render writes one block per item. Zero items write nothing.
func Render(w io.Writer, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	return itemsTmpl.Execute(w, items)
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<p id="status">session: {{.State}}</p>
<button id="showPhotosBtn" type="button">Show photos</button>
<button id="stopCameraBtn" type="button">Stop camera</button>
<div id="gallery"></div>
<script>
document.getElementById("showPhotosBtn").addEventListener("click", async () => {
  const res = await fetch("{{.GalleryURL}}");
  document.getElementById("gallery").insertAdjacentHTML("beforeend", await res.text());
});
document.getElementById("stopCameraBtn").addEventListener("click", async () => {
  await fetch("{{.StopURL}}", {method: "POST"});
  document.getElementById("status").textContent = "session: stopped";
});
</script>
</body>
</html>
`))

// PageData fills the page template.
type PageData struct {
	Title      string
	State      string
	GalleryURL string
	StopURL    string
}

// Page writes the full page with its two controls.
func Page(w io.Writer, d PageData) error {
	if d.Title == "" {
		d.Title = "autocapture"
	}
	return pageTmpl.Execute(w, d)
}

// Thumbnail scales p down to width pixels, keeping the aspect ratio, and
// returns it JPEG-encoded. Photos already narrower than width are
// re-encoded unscaled.
func Thumbnail(p photo.Photo, width int) ([]byte, error) {
	src, err := p.Decode()
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		width = DefaultWidth
	}
	b := src.Bounds()
	dst := image.Image(src)
	if b.Dx() > width {
		h := b.Dy() * width / b.Dx()
		if h < 1 {
			h = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, width, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)
		dst = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: photo.DefaultQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
