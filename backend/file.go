package backend

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const fileMode os.FileMode = 0600

// File stores containers as files on the local disk.
type File struct {
	dir string
}

// NewFile returns a file backend resolving relative names against dir. An
// empty dir means the working directory.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) path(name string) string {
	if filepath.IsAbs(name) || f.dir == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(f.dir, name)
}

// Load reads the whole file.
func (f *File) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := f.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotExist, "file %q", path)
		}
		return nil, errors.Wrapf(err, "cannot read file %q", path)
	}
	return data, nil
}

// Save writes data to a temporary file next to the target, syncs it and
// renames it over the target.
func (f *File) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := f.path(name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "cannot create directory %q", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "cannot create temporary file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "cannot set file mode")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "cannot write data")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "cannot sync data")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "cannot close temporary file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "cannot replace file %q", path)
	}
	return nil
}
