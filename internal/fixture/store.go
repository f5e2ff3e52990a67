package fixture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Store is a directory of cassettes, one per test case.
//
// Layout:
//
//	<root>/<dir-name>/00000.json
//	<root>/<dir-name>/00001.json
//	...
type Store struct {
	root  string
	codec Codec
}

// Option configures a Store.
type Option func(*Store)

// WithCodec selects the on-disk entry format. Default: JSON.
func WithCodec(c Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// NewStore creates a store rooted at root. The root is not created until
// the first cassette is recorded.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{root: root, codec: JSON}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Codec returns the entry codec.
func (s *Store) Codec() Codec { return s.codec }

// Dir returns the cassette directory for testCase without touching the filesystem.
func (s *Store) Dir(testCase string) (string, error) {
	name, err := DirName(testCase)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// Create wipes any previous cassette for testCase and creates an empty one.
// Re-recording replaces old fixtures wholesale; it never merges.
func (s *Store) Create(testCase string) (*Cassette, error) {
	dir, err := s.Dir(testCase)
	if err != nil {
		return nil, newWriteError(testCase, "", -1, "", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, newWriteError(testCase, dir, -1, "", fmt.Errorf("remove previous cassette: %w", err))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newWriteError(testCase, dir, -1, "", fmt.Errorf("create cassette: %w", err))
	}
	return &Cassette{name: testCase, dir: dir, codec: s.codec}, nil
}

// Open returns the existing cassette for testCase.
// A missing or unreadable directory fails with INVALID_FIXTURE_DIRECTORY.
func (s *Store) Open(testCase string) (*Cassette, error) {
	dir, err := s.Dir(testCase)
	if err != nil {
		return nil, newInvalidDirError(testCase, "", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, newInvalidDirError(testCase, dir, err)
	}
	if !info.IsDir() {
		return nil, newInvalidDirError(testCase, dir, fmt.Errorf("not a directory"))
	}
	if _, err := os.ReadDir(dir); err != nil {
		return nil, newInvalidDirError(testCase, dir, err)
	}
	return &Cassette{name: testCase, dir: dir, codec: s.codec}, nil
}

// Remove deletes the cassette for testCase. Missing cassettes are not an error.
func (s *Store) Remove(testCase string) error {
	dir, err := s.Dir(testCase)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove cassette %q: %w", testCase, err)
	}
	return nil
}

// Cases lists the test-case names of the cassettes under the root, sorted.
// Directories whose names DirName could not have produced are skipped.
// A missing root yields an empty list.
func (s *Store) Cases() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cassettes: %w", err)
	}

	cases := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if name, err := CaseName(e.Name()); err == nil {
			cases = append(cases, name)
		}
	}
	sort.Strings(cases)
	return cases, nil
}

// Cassette is the fixture directory of a single test case.
// It is append-only while recording and read-only while replaying.
type Cassette struct {
	name  string
	dir   string
	codec Codec
}

// Name returns the test-case name.
func (c *Cassette) Name() string { return c.name }

// Dir returns the cassette directory.
func (c *Cassette) Dir() string { return c.dir }

func (c *Cassette) path(index int) string {
	return filepath.Join(c.dir, EntryFileName(index, c.codec.Ext()))
}

// WriteEntry persists e under the file name derived from e.Index.
//
// The entry is written to a temp file and renamed into place so a crash
// never leaves a half-written fixture. Failures are returned as WRITE_ERROR
// and never retried.
func (c *Cassette) WriteEntry(e Entry) error {
	data, err := c.codec.Encode(e)
	if err != nil {
		return newWriteError(c.name, c.dir, e.Index, e.Operation, fmt.Errorf("encode: %w", err))
	}

	tmp, err := os.CreateTemp(c.dir, ".entry-*")
	if err != nil {
		return newWriteError(c.name, c.dir, e.Index, e.Operation, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return newWriteError(c.name, c.dir, e.Index, e.Operation, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return newWriteError(c.name, c.dir, e.Index, e.Operation, err)
	}
	if err := os.Rename(tmpName, c.path(e.Index)); err != nil {
		os.Remove(tmpName)
		return newWriteError(c.name, c.dir, e.Index, e.Operation, err)
	}
	return nil
}

// ReadEntry returns the entry at index.
// A missing file fails with FIXTURE_NOT_FOUND; an unreadable or corrupt one
// with DECODE_ERROR.
func (c *Cassette) ReadEntry(index int) (Entry, error) {
	data, err := os.ReadFile(c.path(index))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, newNotFoundError(c.name, c.dir, index)
	}
	if err != nil {
		return Entry{}, newDecodeError(c.name, c.dir, index, err)
	}

	e, err := c.codec.Decode(data)
	if err != nil {
		return Entry{}, newDecodeError(c.name, c.dir, index, err)
	}
	if e.Index != index {
		return Entry{}, newDecodeError(c.name, c.dir, index,
			fmt.Errorf("file holds index %d", e.Index))
	}
	return e, nil
}

// RawEntry returns the undecoded file contents of the entry at index.
func (c *Cassette) RawEntry(index int) ([]byte, error) {
	data, err := os.ReadFile(c.path(index))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, newNotFoundError(c.name, c.dir, index)
	}
	if err != nil {
		return nil, newDecodeError(c.name, c.dir, index, err)
	}
	return data, nil
}

// Indexes returns the indexes present in the cassette, sorted ascending.
func (c *Cassette) Indexes() ([]int, error) {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, newInvalidDirError(c.name, c.dir, err)
	}
	indexes := []int{}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if idx, ok := parseEntryFileName(f.Name(), c.codec.Ext()); ok {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)
	return indexes, nil
}

// ListEntries returns every entry in index order.
func (c *Cassette) ListEntries() ([]Entry, error) {
	indexes, err := c.Indexes()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(indexes))
	for _, idx := range indexes {
		e, err := c.ReadEntry(idx)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Count returns the number of entries in the cassette.
func (c *Cassette) Count() (int, error) {
	indexes, err := c.Indexes()
	if err != nil {
		return 0, err
	}
	return len(indexes), nil
}
