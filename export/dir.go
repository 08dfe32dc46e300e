package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Dir writes downloads into a local directory, creating it on demand.
type Dir struct {
	Path string
}

func (d Dir) Name() string { return "dir" }

// Save writes the file. An existing file with the same name is replaced.
func (d Dir) Save(ctx context.Context, dl Download) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := dl.Bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	// write then rename so a reader never sees half a file
	dst := filepath.Join(d.Path, dl.Filename)
	tmp, err := os.CreateTemp(d.Path, ".export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into %s: %w", dst, err)
	}
	return nil
}
