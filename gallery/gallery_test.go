package gallery

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"testing"

	"go.uber.org/zap"

	"autocapture/photo"
	"autocapture/storage"
)

func memStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.MemoryPath, zap.NewNop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func solidPhoto(t *testing.T, id int64, w, h int) photo.Photo {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	data, err := photo.EncodeJPEG(img, 80)
	if err != nil {
		t.Fatal(err)
	}
	return photo.Photo{ID: id, Data: data}
}

func TestEmptyStoreRendersNothing(t *testing.T) {
	items, err := Load(context.Background(), memStore(t), Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("got %d items", len(items))
	}
	var buf bytes.Buffer
	if err := Render(&buf, items); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty gallery wrote %q", buf.String())
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memStore(t)
	for _, id := range []int64{2000, 1000, 3000} {
		if err := store.Add(ctx, solidPhoto(t, id, 4, 4)); err != nil {
			t.Fatal(err)
		}
	}

	render := func() string {
		items, err := Load(ctx, store, Options{}, zap.NewNop())
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err := Render(&buf, items); err != nil {
			t.Fatal(err)
		}
		return buf.String()
	}
	first, second := render(), render()
	if first != second {
		t.Error("two renders without writes differ")
	}

	if got := strings.Count(first, `<div class="photo"`); got != 3 {
		t.Errorf("got %d photo blocks, want 3", got)
	}
	i1 := strings.Index(first, `data-id="1000"`)
	i2 := strings.Index(first, `data-id="2000"`)
	i3 := strings.Index(first, `data-id="3000"`)
	if !(i1 >= 0 && i1 < i2 && i2 < i3) {
		t.Errorf("photos not in id order: %d %d %d", i1, i2, i3)
	}
	if !strings.Contains(first, `src="data:image/jpeg;base64,`) {
		t.Error("img src is not the stored data URL")
	}
	if !strings.Contains(first, "width: 200px") {
		t.Error("display width missing")
	}
	if !strings.Contains(first, `href="/photos/1000/download"`) {
		t.Error("export control not bound to its photo")
	}
}

func TestLoadCustomOptions(t *testing.T) {
	ctx := context.Background()
	store := memStore(t)
	if err := store.Add(ctx, solidPhoto(t, 7, 2, 2)); err != nil {
		t.Fatal(err)
	}
	items, err := Load(ctx, store, Options{Width: 120, DownloadURL: func(id int64) string { return "/x" }}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Width != 120 || items[0].DownloadURL != "/x" {
		t.Errorf("options ignored: %+v", items[0])
	}
	if items[0].CapturedAt.UnixMilli() != 7 {
		t.Errorf("CapturedAt %v", items[0].CapturedAt)
	}
}

type brokenStore struct{ storage.Store }

func (brokenStore) All(context.Context) ([]photo.Photo, error) { return nil, storage.ErrNotOpen }

func TestLoadReadFailure(t *testing.T) {
	_, err := Load(context.Background(), brokenStore{}, Options{}, zap.NewNop())
	if !errors.Is(err, storage.ErrNotOpen) {
		t.Fatalf("got %v, want ErrNotOpen", err)
	}
}

func TestPageHasControls(t *testing.T) {
	var buf bytes.Buffer
	if err := Page(&buf, PageData{State: "active", GalleryURL: "/photos", StopURL: "/session/stop"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`id="showPhotosBtn"`, `id="stopCameraBtn"`, "session: active"} {
		if !strings.Contains(out, want) {
			t.Errorf("page missing %s", want)
		}
	}
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name         string
		w, h, width  int
		wantW, wantH int
	}{
		{"scaled down", 400, 300, 200, 200, 150},
		{"already small", 100, 50, 200, 100, 50},
		{"default width", 800, 400, 0, 200, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Thumbnail(solidPhoto(t, 1, tt.w, tt.h), tt.width)
			if err != nil {
				t.Fatal(err)
			}
			img, err := jpeg.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatal(err)
			}
			if got := img.Bounds().Size(); got != (image.Point{tt.wantW, tt.wantH}) {
				t.Errorf("size %v, want %dx%d", got, tt.wantW, tt.wantH)
			}
			if _, _, _, a := img.At(0, 0).RGBA(); a != 0xffff {
				t.Errorf("unexpected alpha %x", a)
			}
		})
	}
}
