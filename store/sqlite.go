package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"
)

// SqliteStore keeps the document in a SQLite database.
//
// Tables:
//
//	collections(name, position)          PRIMARY KEY (name)
//	items(collection, position, data)    PRIMARY KEY (collection, position)
//	raw_values(name, data)               PRIMARY KEY (name)
//
// Every top-level key has a row in collections. Keys whose value is not an
// array of objects keep that value verbatim in raw_values instead of items.
//
// Persist replaces every row in one transaction, so the database always
// holds exactly one document, like the JSON file.
type SqliteStore struct {
	path string
	db   *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, &StorageError{Op: "init", Path: dbPath, Err: err}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: dbPath, Err: err}
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			position INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			collection TEXT NOT NULL,
			position INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (collection, position)
		)`,
		`CREATE TABLE IF NOT EXISTS raw_values (
			name TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, &StorageError{Op: "init", Path: dbPath, Err: err}
		}
	}
	return &SqliteStore{path: dbPath, db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) Load() (*Document, error) {
	doc, err := s.load()
	if err != nil {
		return nil, &StorageError{Op: "read", Path: s.path, Err: err}
	}
	return doc, nil
}

func (s *SqliteStore) load() (*Document, error) {
	doc := NewDocument()

	rows, err := s.db.Query(`SELECT c.name, r.data FROM collections c
		LEFT JOIN raw_values r ON r.name = c.name
		ORDER BY c.position`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			name string
			raw  sql.NullString
		)
		if err := rows.Scan(&name, &raw); err != nil {
			rows.Close()
			return nil, err
		}
		if raw.Valid {
			doc.SetRaw(name, []byte(raw.String))
			continue
		}
		doc.Ensure(name)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query("SELECT collection, data FROM items ORDER BY collection, position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		it, err := DecodeItem([]byte(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "collection %q", name)
		}
		doc.Append(name, it)
	}
	return doc, rows.Err()
}

func (s *SqliteStore) Persist(doc *Document) error {
	if err := s.persist(doc); err != nil {
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

func (s *SqliteStore) persist(doc *Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM items"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM collections"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM raw_values"); err != nil {
		return err
	}
	for pos, name := range doc.Names() {
		if _, err := tx.Exec(
			"INSERT INTO collections (name, position) VALUES (?, ?)",
			name, pos,
		); err != nil {
			return err
		}
		if raw, ok := doc.Raw(name); ok {
			if _, err := tx.Exec(
				"INSERT INTO raw_values (name, data) VALUES (?, ?)",
				name, string(raw),
			); err != nil {
				return err
			}
			continue
		}
		for i, it := range doc.Collection(name) {
			b, err := it.MarshalJSON()
			if err != nil {
				return errors.Wrapf(err, "encode item %d of %q", i, name)
			}
			if _, err := tx.Exec(
				"INSERT INTO items (collection, position, data) VALUES (?, ?, ?)",
				name, i, string(b),
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
