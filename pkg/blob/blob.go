// Package blob stores meeting recordings on the local filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
)

// Store is the audio blob contract used by the pipeline and the HTTP layer.
type Store interface {
	// Put stores r under a reference derived from name and returns that reference.
	Put(ctx context.Context, name string, r io.Reader) (string, error)

	// Fetch returns the full content of ref, or mnerrors.ErrNotFound.
	Fetch(ctx context.Context, ref string) ([]byte, error)

	// Open returns a reader over ref, or mnerrors.ErrNotFound.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes ref. Deleting a missing blob is not an error.
	Delete(ctx context.Context, ref string) error
}

// FileStore keeps blobs as flat files under a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a FileStore rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint: errcheck

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return filepath.Base(path), nil
}

func (s *FileStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	rc, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", ref, mnerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (s *FileStore) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// resolve maps a reference to a path inside the root, rejecting anything that
// would escape it.
func (s *FileStore) resolve(ref string) (string, error) {
	clean := filepath.Base(filepath.Clean("/" + ref))
	if ref == "" || clean != ref || strings.HasPrefix(clean, ".") {
		return "", fmt.Errorf("blob reference %q: %w", ref, mnerrors.ErrInvalidArgument)
	}
	return filepath.Join(s.dir, clean), nil
}

var audioTypes = map[string]string{
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// ContentType guesses a MIME type from the reference's extension.
func ContentType(ref string) string {
	ext := strings.ToLower(filepath.Ext(ref))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
