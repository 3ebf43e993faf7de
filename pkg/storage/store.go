package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists a finished result set
type Store interface {
	Save(ctx context.Context, rs *ResultSet) error
}

// FileStore writes the result set as indented JSON to a single file
type FileStore struct {
	path string
}

// NewFileStore creates the parent directory of path
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Path returns the output file path
func (f *FileStore) Path() string {
	return f.path
}

// Save writes to a temporary file in the same directory and renames it into place
func (f *FileStore) Save(ctx context.Context, rs *ResultSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rs, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	return WriteFileAtomic(f.path, append(data, '\n'), 0644)
}

// Load reads a previously saved result set
func (f *FileStore) Load() (*ResultSet, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	rs := NewResultSet()
	if err := json.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return rs, nil
}

// WriteFileAtomic writes data to a temp file, syncs it and renames it over path
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	serr := tmp.Sync()
	cerr := tmp.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set file mode: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// MultiStore saves to every store and joins their errors
type MultiStore []Store

func (m MultiStore) Save(ctx context.Context, rs *ResultSet) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, rs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
