package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/filex"
	"github.com/google/uuid"
)

// StoredImage describes a persisted upload.
type StoredImage struct {
	// Key locates the image inside its store.
	Key string
	// Ref is what the browser uses to display the image.
	Ref string
	// Overwritten is set when an earlier upload with the same key was replaced.
	Overwritten bool
}

// Store persists validated uploads and reads them back for preprocessing.
type Store interface {
	Save(ctx context.Context, name string, body io.Reader) (*StoredImage, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// uniqueName prefixes name with a random uuid.
func uniqueName(name string) string {
	return uuid.NewString() + "_" + name
}

// LocalStore writes uploads to a single flat directory.
type LocalStore struct {
	dir         string
	urlPrefix   string
	uniqueNames bool
}

// NewLocalStore creates dir if needed. With uniqueNames false a second
// upload of the same name replaces the first and is reported as Overwritten.
func NewLocalStore(dir, urlPrefix string, uniqueNames bool) (*LocalStore, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/static/uploads"
	}
	return &LocalStore{dir: abs, urlPrefix: urlPrefix, uniqueNames: uniqueNames}, nil
}

// Dir returns the absolute upload directory.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) resolve(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: bad key %q", common.ErrorNotFound, key)
	}
	p := filepath.Join(s.dir, key)
	if !filex.Within(s.dir, p) {
		return "", fmt.Errorf("%w: bad key %q", common.ErrorNotFound, key)
	}
	return p, nil
}

func (s *LocalStore) Save(ctx context.Context, name string, body io.Reader) (*StoredImage, error) {
	key := name
	if s.uniqueNames {
		key = uniqueName(name)
	}

	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, existed, err := filex.CreateFile(p)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", key, err)
	}

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", key, err)
	}

	return &StoredImage{Key: key, Ref: path.Join(s.urlPrefix, key), Overwritten: existed}, nil
}

// Open fails with common.ErrorNotFound for keys outside the directory or
// files that do not exist.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
		return nil, err
	}
	return f, nil
}
