package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Records are stored in a directory structure: <baseDir>/records/<name>/
//
// Thread-safety: This implementation uses atomic file operations (rename)
// and does not require locks.
type FSStore struct {
	baseDir string // Root directory for all record data (e.g., "./data")
	format  Format // Encoding used by SaveRecord
}

// NewFSStore creates a new filesystem-based store writing JSON records.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
		format:  FormatJSON,
	}, nil
}

// WithFormat returns a store over the same directory that saves in format f.
// Loading accepts either format regardless.
func (fs *FSStore) WithFormat(f Format) *FSStore {
	return &FSStore{baseDir: fs.baseDir, format: f}
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// recordDir returns the directory path for a given record.
func (fs *FSStore) recordDir(name string) string {
	return filepath.Join(fs.baseDir, "records", name)
}

// recordPath returns the path of the record file in format f.
func (fs *FSStore) recordPath(name string, f Format) string {
	return filepath.Join(fs.recordDir(name), f.fileName())
}

// SaveRecord atomically saves a record.
// Uses temp file + rename pattern to ensure atomicity.
func (fs *FSStore) SaveRecord(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	dir := fs.recordDir(rec.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	data, err := encodeRecord(fs.format, rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	finalPath := fs.recordPath(rec.Name, fs.format)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp record file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename record file: %w", err)
	}

	// A record saved in one format replaces any copy in the other.
	other := FormatMsgpack
	if fs.format == FormatMsgpack {
		other = FormatJSON
	}
	if err := os.Remove(fs.recordPath(rec.Name, other)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale record file: %w", err)
	}

	slog.Debug("Record saved", "name", rec.Name, "path", finalPath, "format", fs.format)
	return nil
}

// LoadRecord retrieves the record with the given name in either format.
func (fs *FSStore) LoadRecord(name string) (*Record, error) {
	if name == "" {
		return nil, fmt.Errorf("record name cannot be empty")
	}

	for _, f := range []Format{FormatJSON, FormatMsgpack} {
		path := fs.recordPath(name, f)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record file: %w", err)
		}

		rec, err := decodeRecord(f, data)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize record: %w", err)
		}
		slog.Debug("Record loaded", "name", name, "path", path)
		return rec, nil
	}
	return nil, &NotFoundError{Name: name}
}

// ListRecords returns metadata for all stored records, sorted by name.
func (fs *FSStore) ListRecords() ([]RecordInfo, error) {
	recordsDir := filepath.Join(fs.baseDir, "records")

	entries, err := os.ReadDir(recordsDir)
	if os.IsNotExist(err) {
		return []RecordInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read records directory: %w", err)
	}

	infos := []RecordInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		rec, err := fs.LoadRecord(entry.Name())
		if err != nil {
			if _, ok := err.(*NotFoundError); !ok {
				slog.Warn("Failed to load record for listing", "name", entry.Name(), "error", err)
			}
			continue // directory with only a trace, or corrupted
		}
		infos = append(infos, rec.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	slog.Debug("Listed records", "count", len(infos))
	return infos, nil
}

// DeleteRecord removes the record directory including its trace.
func (fs *FSStore) DeleteRecord(name string) error {
	if name == "" {
		return fmt.Errorf("record name cannot be empty")
	}

	dir := fs.recordDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{Name: name}
	} else if err != nil {
		return fmt.Errorf("failed to stat record directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove record directory: %w", err)
	}

	slog.Debug("Record deleted", "name", name, "path", dir)
	return nil
}
