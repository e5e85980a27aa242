package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore manages files under a root directory. The worker uses one store
// for the engine's models directory and one for the download cache. Every
// write lands under a temporary name first and is renamed into place, so a
// reader never observes a partially written file at a key.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Path resolves key to an absolute path inside the store.
func (s *FileStore) Path(key string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey)), nil
}

// Present reports whether key resolves (following links) to a non-empty
// regular file.
func (s *FileStore) Present(key string) (bool, error) {
	fullPath, err := s.Path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

// WriteStream copies r into key and returns the final path.
func (s *FileStore) WriteStream(ctx context.Context, key string, r io.Reader) (string, error) {
	fullPath, err := s.Path(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tmp, err := s.tempFile(fullPath)
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: rename %s: %w", key, err)
	}
	return fullPath, nil
}

// Place makes key point at the file src. A symbolic link is preferred; when
// the filesystem refuses links the content is copied instead.
func (s *FileStore) Place(ctx context.Context, key, src string) (string, error) {
	fullPath, err := s.Path(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return "", fmt.Errorf("storage: resolve source: %w", err)
	}
	tmpPath := fmt.Sprintf("%s.link-%d", fullPath, os.Getpid())
	os.Remove(tmpPath)
	if err := os.Symlink(absSrc, tmpPath); err == nil {
		if err := os.Rename(tmpPath, fullPath); err != nil {
			os.Remove(tmpPath)
			return "", fmt.Errorf("storage: rename link %s: %w", key, err)
		}
		return fullPath, nil
	}
	in, err := os.Open(absSrc)
	if err != nil {
		return "", fmt.Errorf("storage: open source: %w", err)
	}
	defer in.Close()
	return s.WriteStream(ctx, key, in)
}

func (s *FileStore) tempFile(fullPath string) (*os.File, error) {
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("storage: create temp file: %w", err)
	}
	return tmp, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
