package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps blobs as flat files under a directory that the HTTP
// layer serves publicly.
type LocalStore struct {
	rootDir        string
	maxUploadBytes int64
}

func NewLocalStore(rootDir string, maxUploadBytes int64) (*LocalStore, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	if maxUploadBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be > 0")
	}

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root directory: %w", err)
	}

	return &LocalStore{
		rootDir:        rootDir,
		maxUploadBytes: maxUploadBytes,
	}, nil
}

func (s *LocalStore) Root() string {
	return s.rootDir
}

func (s *LocalStore) Put(ctx context.Context, name string, src io.Reader, _ string) (*StoredBlob, error) {
	absPath, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	tmpFile, err := os.CreateTemp(s.rootDir, ".upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temporary blob file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	written, err := io.Copy(tmpFile, io.LimitReader(contextReader{ctx: ctx, r: src}, s.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("writing blob file: %w", err)
	}
	if written > s.maxUploadBytes {
		return nil, ErrFileTooLarge
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("closing temporary blob file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		return nil, fmt.Errorf("finalizing blob file: %w", err)
	}

	return &StoredBlob{
		Name:      name,
		Path:      filepath.ToSlash(absPath),
		SizeBytes: written,
	}, nil
}

func (s *LocalStore) Exists(_ context.Context, name string) (bool, error) {
	absPath, err := s.resolve(name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking blob file: %w", err)
	}
	return true, nil
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	absPath, err := s.resolve(name)
	if err != nil {
		return err
	}

	err = os.Remove(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting blob file: %w", err)
	}

	return nil
}

func (s *LocalStore) resolve(name string) (string, error) {
	if !validName(name) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.rootDir, name), nil
}

// contextReader stops a copy once ctx is done.
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
