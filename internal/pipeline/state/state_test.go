package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewRun_Validation(t *testing.T) {
	if _, err := NewRun("", []string{"analysis"}); err == nil {
		t.Fatal("empty project accepted")
	}
	if _, err := NewRun("proj", nil); err == nil {
		t.Fatal("empty step list accepted")
	}
	r, err := NewRun("proj", []string{"analysis", "architecture"})
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	if r.ID == "" {
		t.Fatal("run id not assigned")
	}
	if len(r.Steps) != 2 {
		t.Fatalf("steps: %v", r.Steps)
	}
}

func TestRecord_SetMembership(t *testing.T) {
	r, err := NewRun("proj", []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	r.Record("a", StepResult{Status: StatusOK})
	r.Record("b", StepResult{Status: StatusError, Error: "boom"})
	r.Record("c", StepResult{Status: StatusSkipped})
	r.Record("d", StepResult{Status: StatusBlocked})

	if !r.Completed["a"] || r.Failed["a"] {
		t.Fatal("ok step not in completed set")
	}
	if !r.Failed["b"] || r.Completed["b"] {
		t.Fatal("error step not in failed set")
	}
	for _, s := range []string{"c", "d"} {
		if r.Completed[s] || r.Failed[s] {
			t.Fatalf("step %s should be in neither set", s)
		}
	}
	if r.Turn != 4 {
		t.Fatalf("turn counter = %d, want 4", r.Turn)
	}
}

func TestContextText(t *testing.T) {
	r, err := NewRun("proj", []string{"a"})
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	r.AppendContext("a", "produced plan.md")
	r.AppendContext("a", "   ")
	got := r.ContextText()
	if got != "[a] produced plan.md\n" {
		t.Fatalf("ContextText: %q", got)
	}
}

func TestWriteJSONAtomic_NoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")
	if err := WriteJSONAtomic(path, map[string]int{"n": 1}); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var m map[string]int
	if err := json.Unmarshal(raw, &m); err != nil || m["n"] != 1 {
		t.Fatalf("round-trip: %v %v", m, err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFinalOutcome_Save(t *testing.T) {
	dir := t.TempDir()
	fo := &FinalOutcome{
		Timestamp:     time.Now().UTC(),
		Status:        FinalFail,
		RunID:         "r1",
		Project:       "proj",
		FailedStep:    "backend_models",
		FailureReason: "structural validation failed",
		SpentUnits:    12.5,
	}
	path := filepath.Join(dir, "final.json")
	if err := fo.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got FinalOutcome
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != FinalFail || got.FailedStep != "backend_models" {
		t.Fatalf("round-trip: %+v", got)
	}
}

func TestBlockRoundTripAndUnblock(t *testing.T) {
	dir := t.TempDir()

	if _, found, err := ReadBlock(dir); err != nil || found {
		t.Fatalf("fresh dir reported blocked: found=%v err=%v", found, err)
	}

	b := Block{Step: "integration", QualityScore: 4, Threshold: 6, Reason: "quality below gate"}
	if err := WriteBlock(dir, b); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	got, found, err := ReadBlock(dir)
	if err != nil || !found {
		t.Fatalf("ReadBlock: found=%v err=%v", found, err)
	}
	if got.Step != "integration" || got.QualityScore != 4 || got.Threshold != 6 {
		t.Fatalf("block round-trip: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped on write")
	}

	if err := Unblock(dir); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if _, found, _ := ReadBlock(dir); found {
		t.Fatal("still blocked after Unblock")
	}
	// Clearing twice is fine.
	if err := Unblock(dir); err != nil {
		t.Fatalf("second Unblock: %v", err)
	}
}

func TestWriteBlock_RequiresStep(t *testing.T) {
	if err := WriteBlock(t.TempDir(), Block{}); err == nil {
		t.Fatal("blank step accepted")
	}
}
