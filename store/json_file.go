package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// JsonFileStore keeps the whole document in one JSON file.
//
// Layout:
//
//	{
//	  "todos": [ {"id": 1, ...}, ... ],
//	  "users": [ ... ]
//	}
type JsonFileStore struct {
	path string
}

func NewJsonFileStore(path string) (*JsonFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &StorageError{Op: "init", Path: path, Err: err}
	}
	return &JsonFileStore{path: path}, nil
}

func (s *JsonFileStore) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, &StorageError{Op: "read", Path: s.path, Err: err}
	}
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, &StorageError{Op: "parse", Path: s.path, Err: err}
	}
	return doc, nil
}

func (s *JsonFileStore) Persist(doc *Document) error {
	b, err := encodeDocument(doc)
	if err != nil {
		return &StorageError{Op: "encode", Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, b, 0o644); err != nil {
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

func (s *JsonFileStore) Close() error {
	return nil
}

// encodeDocument renders doc with a two-space indent and a trailing newline.
func encodeDocument(doc *Document) ([]byte, error) {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// writeFileAtomic writes to a temp file next to path and renames it over
// path, so readers see either the old or the new contents. An existing
// file keeps its mode; perm applies to new files only.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
