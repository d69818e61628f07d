// Package workspace persists raw task outputs to disk under
// deterministic names so operators can inspect what an agent produced.
package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Writer writes task artifacts into a workspace directory.
type Writer struct {
	dir    string
	logger logging.Logger
}

// NewWriter creates the workspace directory if needed.
func NewWriter(dir string, logger logging.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{dir: dir, logger: logging.OrNop(logger)}, nil
}

// SaveTaskOutput writes the output under task-<shortid>-<slug>.txt and
// returns the path.
func (w *Writer) SaveTaskOutput(task *domain.Task, output string) (string, error) {
	name := "task-" + shortID(task.ID) + "-" + slug(task.Title) + ".txt"
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", err
	}
	w.logger.Debug("saved output for task %s to %s", task.ID, path)
	return path, nil
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "task-")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func slug(title string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	if len(s) > 40 {
		s = strings.Trim(s[:40], "-")
	}
	return s
}
