package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const fileExt = ".json"

var (
	// ErrNotFound is returned when no persona file exists for a lookup name.
	ErrNotFound = errors.New("persona not found")
	// ErrParse is returned when persona content does not decode into a Definition.
	ErrParse = errors.New("persona parse error")

	versionSegment = regexp.MustCompile(`^v([0-9]+)$`)
	codeFence      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// Store reads and writes persona files in a single directory. Files are
// named {baseName}.json for version 1 and {baseName}.v{N}.json afterwards.
type Store struct {
	dir         string
	branchEvery int

	// rename is swapped in tests to simulate a crash before the final rename.
	rename func(oldpath, newpath string) error
}

// NewStore creates a store rooted at dir. branchEvery is handed to every
// persona the store produces; zero selects DefaultBranchEvery.
func NewStore(dir string, branchEvery int) *Store {
	if branchEvery <= 0 {
		branchEvery = DefaultBranchEvery
	}
	return &Store{
		dir:         dir,
		branchEvery: branchEvery,
		rename:      os.Rename,
	}
}

// Dir returns the directory the store reads from.
func (s *Store) Dir() string {
	return s.dir
}

// ParseName splits a lookup name such as "nova.v3" into its base name and
// version. Names without a version token are version 1.
func ParseName(name string) (string, int) {
	segments := strings.Split(name, ".")
	base := segments[0]
	if base == "" {
		base = name
	}
	for _, seg := range segments[1:] {
		m := versionSegment.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil || v < 1 {
			return base, 1
		}
		return base, v
	}
	return base, 1
}

// VersionedName builds the lookup name for a given lineage version.
func VersionedName(baseName string, version int) string {
	return fmt.Sprintf("%s.v%d", baseName, version)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// Load reads the persona stored under name.
func (s *Store) Load(name string) (*Persona, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read persona %s: %w", name, err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, name, err)
	}
	if err := validate(def); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, name, err)
	}

	base, version := ParseName(name)
	p := New(base, def, s.branchEvery)
	p.Version = version
	p.name = name
	return p, nil
}

// Save decodes candidate as the next version of current and writes it
// atomically. current is not modified; the returned persona carries the new
// lineage values regardless of what candidate contained.
func (s *Store) Save(current *Persona, candidate string) (*Persona, error) {
	def, err := DecodeDefinition(candidate)
	if err != nil {
		return nil, err
	}

	next := New(current.BaseName, def, s.branchEvery)
	next.Version = current.Version + 1
	next.name = VersionedName(next.BaseName, next.Version)

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode persona: %w", err)
	}
	if err := s.writeAtomic(s.path(next.LookupName()), data); err != nil {
		return nil, err
	}
	return next, nil
}

// DecodeDefinition strictly decodes model output into a Definition. Markdown
// code fences around the JSON are tolerated. Fields outside the schema, such
// as a version the model invented, are dropped.
func DecodeDefinition(raw string) (Definition, error) {
	var def Definition

	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if text == "" {
		return def, fmt.Errorf("%w: empty definition", ErrParse)
	}

	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&def); err != nil {
		return def, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if dec.More() {
		return def, fmt.Errorf("%w: trailing data after definition", ErrParse)
	}
	if err := validate(def); err != nil {
		return def, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return def, nil
}

func validate(def Definition) error {
	switch {
	case strings.TrimSpace(def.Alias) == "":
		return errors.New("alias is required")
	case strings.TrimSpace(def.TwitterUserName) == "":
		return errors.New("twitterUserName is required")
	case strings.TrimSpace(def.Bio) == "":
		return errors.New("bio is required")
	}
	return nil
}

// writeAtomic writes data to a temp file next to dest and renames it into
// place. The temp file is removed on any failure.
func (s *Store) writeAtomic(dest string, data []byte) (err error) {
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = s.rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to move persona into place: %w", err)
	}
	return nil
}

// List returns every lookup name in the store directory, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the lookup name of the highest stored version of baseName.
func (s *Store) Latest(baseName string) (string, error) {
	names, err := s.List()
	if err != nil {
		return "", err
	}
	best, bestVersion := "", 0
	for _, name := range names {
		base, version := ParseName(name)
		if base != baseName {
			continue
		}
		if version > bestVersion {
			best, bestVersion = name, version
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, baseName)
	}
	return best, nil
}
