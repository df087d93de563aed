package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// progressWriter appends one JSON object per line to progress.ndjson under
// the logs root. Events are observability output; a write failure never
// fails the run.
type progressWriter struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func newProgressWriter(logsRoot string) *progressWriter {
	return &progressWriter{
		path: filepath.Join(logsRoot, "progress.ndjson"),
		now:  time.Now,
	}
}

func (p *progressWriter) append(ev map[string]any) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := ev["ts"]; !ok {
		ev["ts"] = p.now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(b, '\n'))
}
