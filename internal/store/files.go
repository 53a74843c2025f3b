package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore keeps image bytes in a flat directory, one file per upload or version.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create images dir: %v", ErrStorageUnavailable, err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) Dir() string { return fs.dir }

// UploadName builds "<uuid><ext>" keeping the lower-cased original extension.
func UploadName(origName string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(origName))
}

// EditName builds the name of an edited copy.
func EditName(ext string) string {
	return "edit_" + uuid.NewString() + strings.ToLower(ext)
}

// Path resolves a storage-relative name. Names that try to leave the
// directory are rejected.
func (fs *FileStore) Path(name string) (string, error) {
	clean := filepath.Base(filepath.Clean("/" + name))
	if clean != name || clean == "/" || clean == "." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(fs.dir, clean), nil
}

// Save writes data under name through a .part file.
func (fs *FileStore) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := fs.Path(name)
	if err != nil {
		return err
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrStorageUnavailable, name, err)
	}
	return nil
}

func (fs *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := fs.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, name, err)
	}
	return data, nil
}

// Delete is only used to undo an upload whose record could not be created.
func (fs *FileStore) Delete(ctx context.Context, name string) error {
	path, err := fs.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", ErrStorageUnavailable, name, err)
	}
	return nil
}

// Copy duplicates src under dst byte for byte.
func (fs *FileStore) Copy(ctx context.Context, src, dst string) error {
	srcPath, err := fs.Path(src)
	if err != nil {
		return err
	}
	dstPath, err := fs.Path(dst)
	if err != nil {
		return err
	}

	in, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("file %s: %w", src, ErrNotFound)
		}
		return fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, src, err)
	}
	defer in.Close()

	tmp := dstPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStorageUnavailable, dst, err)
	}

	if _, err := io.Copy(out, readerWithContext(ctx, in)); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: copy %s: %v", ErrStorageUnavailable, src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: close %s: %v", ErrStorageUnavailable, dst, err)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrStorageUnavailable, dst, err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
