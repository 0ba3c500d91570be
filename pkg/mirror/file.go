package mirror

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/surrealdb/vuser.go/internal/codec"
	"github.com/surrealdb/vuser.go/pkg/constants"
)

const filePermission = 0600

// File mirrors the cache into a single JSON file named after
// constants.MirrorSlot inside Dir.
type File struct {
	fs  afero.Fs
	dir string
	c   codec.Codec
}

// NewFile returns a mirror rooted at dir on fs. Use afero.NewOsFs() for the
// real filesystem and afero.NewMemMapFs() in tests.
func NewFile(fs afero.Fs, dir string) *File {
	return &File{fs: fs, dir: dir, c: codec.JSON{}}
}

func (f *File) path(slot string) string {
	return filepath.Join(f.dir, slot+".json")
}

func (f *File) ReadAll(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("read", err)
	}
	file, err := f.fs.Open(f.path(constants.MirrorSlot))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, unavailable("read", err)
	}
	defer file.Close()

	data := map[string]any{}
	if err := f.c.NewDecoder(file).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return nil, unavailable("read", err)
	}
	return data, nil
}

func (f *File) WriteAll(ctx context.Context, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return unavailable("write", err)
	}
	err := f.write(constants.MirrorSlot, func(w io.Writer) error {
		return f.c.NewEncoder(w).Encode(data)
	})
	if err != nil {
		return unavailable("write", err)
	}
	return nil
}

// write replaces the slot through a temporary file so a crash never leaves a
// half-written cache behind.
func (f *File) write(slot string, fill func(w io.Writer) error) error {
	if err := f.fs.MkdirAll(f.dir, 0o700); err != nil {
		return err
	}
	tmp := f.path(slot) + ".tmp"
	file, err := f.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermission)
	if err != nil {
		return err
	}
	if err := fill(file); err != nil {
		file.Close()
		_ = f.fs.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return f.fs.Rename(tmp, f.path(slot))
}

func (f *File) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("clear", err)
	}
	err := f.fs.Remove(f.path(constants.MirrorSlot))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return unavailable("clear", err)
	}
	return nil
}

// Probe writes, reads back and removes a marker slot.
func (f *File) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("probe", err)
	}
	err := f.write(constants.ProbeSlot, func(w io.Writer) error {
		_, err := io.WriteString(w, "1")
		return err
	})
	if err != nil {
		return unavailable("probe", err)
	}
	b, err := afero.ReadFile(f.fs, f.path(constants.ProbeSlot))
	if err != nil {
		return unavailable("probe", err)
	}
	if err := f.fs.Remove(f.path(constants.ProbeSlot)); err != nil {
		return unavailable("probe", err)
	}
	if string(b) != "1" {
		return unavailable("probe", errors.New("read back unexpected content"))
	}
	return nil
}
