// Package checkpoint persists named, timestamped snapshots of the files a
// step produced. Snapshots are append-only per step; "latest" is
// last-write-wins by timestamp, which needs no locking because each write
// is a single step's terminal action.
package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"

	"github.com/forgeworks/foundry/internal/pipeline/artifact"
)

const timestampLayout = "20060102T150405.000"

// Metadata is the small record written alongside each snapshot's files.
type Metadata struct {
	Step          string            `json:"step"`
	Timestamp     time.Time         `json:"timestamp"`
	OriginalPaths []string          `json:"original_paths"`
	Hashes        map[string]string `json:"hashes"`
}

// Store writes snapshots under root, one directory per {step}_{timestamp}.
type Store struct {
	root string

	// ExcludeGlobs filters files out of snapshots (build artifacts, caches).
	ExcludeGlobs []string

	now func() time.Time
}

func NewStore(root string) *Store {
	return &Store{root: root, now: time.Now}
}

// Save snapshots the file set for a step and returns the snapshot directory.
// Files keep their base filenames; original relative paths live in the
// metadata record. Callers only invoke Save for steps that finished ok.
func (s *Store) Save(step string, files artifact.FileSet) (string, error) {
	if strings.TrimSpace(step) == "" {
		return "", fmt.Errorf("checkpoint: step name is required")
	}
	if len(files) == 0 {
		return "", fmt.Errorf("checkpoint: no files to snapshot for step %s", step)
	}

	ts := s.now().UTC()
	dir := filepath.Join(s.root, fmt.Sprintf("%s_%s", step, ts.Format(timestampLayout)))
	// Two saves for one step inside the same millisecond get a counter
	// suffix so neither snapshot is silently overwritten.
	for i := 1; ; i++ {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			break
		}
		dir = filepath.Join(s.root, fmt.Sprintf("%s_%s-%d", step, ts.Format(timestampLayout), i))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	meta := Metadata{
		Step:      step,
		Timestamp: ts,
		Hashes:    map[string]string{},
	}
	for _, path := range files.Paths() {
		if s.excluded(path) {
			continue
		}
		base := filepath.Base(path)
		if err := os.WriteFile(filepath.Join(dir, base), []byte(files[path]), 0o644); err != nil {
			return "", err
		}
		meta.OriginalPaths = append(meta.OriginalPaths, path)
		meta.Hashes[path] = contentHash(files[path])
	}
	if len(meta.OriginalPaths) == 0 {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("checkpoint: every file excluded for step %s", step)
	}

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), b, 0o644); err != nil {
		return "", err
	}
	return dir, nil
}

// Latest returns the most recent snapshot for the step, restoring original
// relative paths from metadata. Returns os.ErrNotExist when the step has
// no snapshot.
func (s *Store) Latest(step string) (artifact.FileSet, Metadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Metadata{}, os.ErrNotExist
		}
		return nil, Metadata{}, err
	}
	prefix := step + "_"
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, Metadata{}, os.ErrNotExist
	}
	// Timestamp layout sorts lexicographically; the counter suffix keeps
	// same-millisecond saves ordered too.
	sort.Strings(names)
	dir := filepath.Join(s.root, names[len(names)-1])

	mb, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(mb, &meta); err != nil {
		return nil, Metadata{}, fmt.Errorf("checkpoint: decode metadata in %s: %w", dir, err)
	}

	files := artifact.FileSet{}
	for _, orig := range meta.OriginalPaths {
		b, err := os.ReadFile(filepath.Join(dir, filepath.Base(orig)))
		if err != nil {
			return nil, Metadata{}, err
		}
		files[orig] = string(b)
	}
	return files, meta, nil
}

func (s *Store) excluded(path string) bool {
	for _, glob := range s.ExcludeGlobs {
		if ok, err := doublestar.Match(glob, path); err == nil && ok {
			return true
		}
	}
	return false
}

func contentHash(content string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
