package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vbonduro/homewiz/internal/domain"
)

// Store keeps blobs as files below basePath. Files are served by the web
// package under <publicBase>/media/.
type Store struct {
	basePath   string
	publicBase string
}

func New(basePath, publicBase string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &Store{basePath: basePath, publicBase: strings.TrimSuffix(publicBase, "/")}, nil
}

func (s *Store) URL(path string) string {
	return s.publicBase + "/media/" + strings.TrimPrefix(path, "/")
}

func (s *Store) Put(ctx context.Context, path string, r io.Reader, contentType string) (string, error) {
	filePath, err := s.safeJoin(path)
	if err != nil {
		return "", domain.NewStoreError("put blob", domain.ReasonInvalid, err)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", domain.NewStoreError("put blob", domain.ReasonBackend, fmt.Errorf("failed to create directory: %w", err))
	}

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", domain.NewStoreError("put blob", domain.ReasonConstraint, fmt.Errorf("%s already exists", path))
		}
		return "", domain.NewStoreError("put blob", domain.ReasonBackend, fmt.Errorf("failed to create file: %w", err))
	}
	if _, err := io.Copy(f, r); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return "", domain.NewStoreError("put blob", domain.ReasonBackend, fmt.Errorf("failed to write file: %w", err))
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return "", domain.NewStoreError("put blob", domain.ReasonBackend, fmt.Errorf("failed to close file: %w", err))
	}
	return s.URL(path), nil
}

func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, string, error) {
	filePath, err := s.safeJoin(path)
	if err != nil {
		return nil, "", domain.NewStoreError("get blob", domain.ReasonInvalid, err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", domain.NewStoreError("get blob", domain.ReasonNotFound, fmt.Errorf("%s", path))
		}
		return nil, "", domain.NewStoreError("get blob", domain.ReasonBackend, fmt.Errorf("failed to open file: %w", err))
	}
	return f, extToMimeType(filePath), nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	filePath, err := s.safeJoin(path)
	if err != nil {
		return domain.NewStoreError("delete blob", domain.ReasonInvalid, err)
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return domain.NewStoreError("delete blob", domain.ReasonNotFound, fmt.Errorf("%s", path))
		}
		return domain.NewStoreError("delete blob", domain.ReasonBackend, fmt.Errorf("failed to delete file: %w", err))
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	root, err := s.safeJoin(prefix)
	if err != nil {
		return nil, domain.NewStoreError("list blobs", domain.ReasonInvalid, err)
	}
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return nil, domain.NewStoreError("list blobs", domain.ReasonBackend, err)
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(absBase, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, domain.NewStoreError("list blobs", domain.ReasonBackend, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// safeJoin resolves path relative to basePath and rejects directory traversal.
func (s *Store) safeJoin(path string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}

func extToMimeType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
