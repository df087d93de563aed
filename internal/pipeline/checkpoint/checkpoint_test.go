package checkpoint

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/forgeworks/foundry/internal/pipeline/artifact"
)

func TestSaveAndLatest_RoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	files := artifact.FileSet{
		"app/models.py":        "class Item:\n    pass",
		"app/routers/items.py": "def list_items():\n    return []",
	}
	dir, err := s.Save("backend_models", files)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.Contains(dir, "backend_models_") {
		t.Fatalf("snapshot dir: %q", dir)
	}

	got, meta, err := s.Latest("backend_models")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !reflect.DeepEqual(got, files) {
		t.Fatalf("round-trip: got %#v want %#v", got, files)
	}
	if meta.Step != "backend_models" || len(meta.OriginalPaths) != 2 {
		t.Fatalf("metadata: %+v", meta)
	}
	for _, p := range meta.OriginalPaths {
		if meta.Hashes[p] == "" {
			t.Fatalf("missing hash for %s", p)
		}
	}
}

func TestLatest_LastWriteWins(t *testing.T) {
	s := NewStore(t.TempDir())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if _, err := s.Save("analysis", artifact.FileSet{"plan.md": "v1"}); err != nil {
		t.Fatalf("Save v1: %v", err)
	}
	s.now = func() time.Time { return base.Add(2 * time.Second) }
	if _, err := s.Save("analysis", artifact.FileSet{"plan.md": "v2"}); err != nil {
		t.Fatalf("Save v2: %v", err)
	}

	got, _, err := s.Latest("analysis")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got["plan.md"] != "v2" {
		t.Fatalf("Latest returned %q, want v2", got["plan.md"])
	}
}

func TestSave_SameMillisecondGetsDistinctDirs(t *testing.T) {
	s := NewStore(t.TempDir())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	d1, err := s.Save("analysis", artifact.FileSet{"plan.md": "v1"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	d2, err := s.Save("analysis", artifact.FileSet{"plan.md": "v2"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if d1 == d2 {
		t.Fatalf("same-millisecond snapshots collided: %s", d1)
	}
	got, _, err := s.Latest("analysis")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got["plan.md"] != "v2" {
		t.Fatalf("Latest: got %q want v2", got["plan.md"])
	}
}

func TestLatest_NoSnapshot(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, _, err := s.Latest("missing"); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestSave_ExcludeGlobs(t *testing.T) {
	s := NewStore(t.TempDir())
	s.ExcludeGlobs = []string{"**/__pycache__/**", "*.log"}
	files := artifact.FileSet{
		"app/main.py":              "x = 1",
		"app/__pycache__/main.pyc": "binary",
		"debug.log":                "noise",
	}
	if _, err := s.Save("integration", files); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, meta, err := s.Latest("integration")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got) != 1 || got["app/main.py"] != "x = 1" {
		t.Fatalf("excluded files leaked into snapshot: %#v", got)
	}
	if len(meta.OriginalPaths) != 1 {
		t.Fatalf("metadata paths: %v", meta.OriginalPaths)
	}
}

func TestSave_RejectsEmptyInput(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Save("analysis", nil); err == nil {
		t.Fatalf("empty file set accepted")
	}
	if _, err := s.Save("  ", artifact.FileSet{"a": "b"}); err == nil {
		t.Fatalf("blank step accepted")
	}
}
