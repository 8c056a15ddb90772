package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the error class for local storage failures.
var Error = errs.Class("fs")

// Local is an api.Storer backed by the local (or a mounted shared) file
// system.
type Local struct{}

func NewLocalStorage() *Local {
	return &Local{}
}

func (l *Local) OpenRead(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return f, nil
}

// OpenWrite returns a writer over a temporary file in the destination
// directory. Close renames it onto path.
func (l *Local) OpenWrite(path string) (io.WriteCloser, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Error.New("failed to create directory %s: %v", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return &atomicFile{f: f, path: path}, nil
}

func (l *Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Error.Wrap(err)
	}

	return nil
}

// atomicFile commits on Close only if every Write succeeded.
type atomicFile struct {
	f      *os.File
	path   string
	err    error
	closed bool
}

func (a *atomicFile) Write(p []byte) (int, error) {
	if a.err != nil {
		return 0, a.err
	}
	n, err := a.f.Write(p)
	if err != nil {
		a.err = Error.Wrap(err)
	}
	return n, a.err
}

func (a *atomicFile) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	tmp := a.f.Name()
	if err := a.f.Close(); err != nil || a.err != nil {
		_ = os.Remove(tmp)
		return errs.Combine(a.err, Error.Wrap(err))
	}

	if err := os.Rename(tmp, a.path); err != nil {
		_ = os.Remove(tmp)
		return Error.Wrap(err)
	}

	return nil
}
