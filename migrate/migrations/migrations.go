// Package migrations manages the on-disk migrations directory: one folder
// per migration, named {timestamp}_{name}, containing the rendered SQL
// script. The folder name doubles as the migration id in the history
// ledger.
package migrations

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ScriptFile is the file name of the SQL script inside a migration folder.
const ScriptFile = "migration.sql"

// idTimestampFormat is the leading timestamp of a migration id, always UTC.
const idTimestampFormat = "20060102150405"

// Migration is one entry of the migrations directory.
type Migration struct {
	// ID is the folder name, {timestamp}_{name}.
	ID     string
	Name   string
	Script string
}

// Store reads and writes a migrations directory. The filesystem is
// abstracted so tests run against an in-memory one.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore opens a migrations directory, creating it if needed.
func NewStore(fs afero.Fs, root string) (*Store, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations directory %q: %w", root, err)
	}
	return &Store{fs: fs, root: root}, nil
}

// Root returns the directory the store operates on.
func (s *Store) Root() string { return s.root }

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// NewID builds a migration id from the current time and a human name.
func NewID(name string) string {
	name = nameSanitizer.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" {
		name = "migration"
	}
	return time.Now().UTC().Format(idTimestampFormat) + "_" + name
}

// Write persists a rendered script under a fresh id and returns the entry.
func (s *Store) Write(name, script string) (Migration, error) {
	id := NewID(name)
	dir := filepath.Join(s.root, id)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return Migration{}, fmt.Errorf("create migration folder %q: %w", id, err)
	}
	path := filepath.Join(dir, ScriptFile)
	if err := afero.WriteFile(s.fs, path, []byte(script), 0o644); err != nil {
		return Migration{}, fmt.Errorf("write %s: %w", path, err)
	}
	return Migration{ID: id, Name: nameOf(id), Script: script}, nil
}

// List returns every migration in id order, oldest first. Folders without a
// script file and stray files are skipped.
func (s *Store) List() ([]Migration, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %q: %w", s.root, err)
	}

	var all []Migration
	for _, entry := range entries {
		if !entry.IsDir() || !isMigrationID(entry.Name()) {
			continue
		}
		m, err := s.Read(entry.Name())
		if err != nil {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// Read loads one migration by id.
func (s *Store) Read(id string) (Migration, error) {
	path := filepath.Join(s.root, id, ScriptFile)
	script, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return Migration{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Migration{ID: id, Name: nameOf(id), Script: string(script)}, nil
}

var idPattern = regexp.MustCompile(`^\d{14}_`)

func isMigrationID(name string) bool {
	return idPattern.MatchString(name)
}

func nameOf(id string) string {
	if idx := strings.IndexByte(id, '_'); idx >= 0 {
		return id[idx+1:]
	}
	return id
}
