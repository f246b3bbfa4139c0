package portfolio

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doubtfire-lms/doubtfire-go/internal/upload"
)

// settleDelay is how long a task's queue directory must stay quiet before
// the watcher hands it to the compiler. Uploads land one file at a time;
// compiling after the first file would split the evidence PDF.
const settleDelay = 3 * time.Second

// Watcher compiles submissions dropped straight into the new/ tree, which
// is how bulk imports and the offline upload path deliver files.
type Watcher struct {
	compiler *Compiler
	work     *upload.Workdir
}

func NewWatcher(compiler *Compiler, work *upload.Workdir) *Watcher {
	return &Watcher{compiler: compiler, work: work}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	newRoot := filepath.Join(w.work.Root(), "new")
	if err := fw.Add(newRoot); err != nil {
		return err
	}
	// Pick up queue dirs that already exist at startup.
	entries, err := os.ReadDir(newRoot)
	if err != nil {
		return err
	}
	pending := make(map[string]time.Time)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := fw.Add(filepath.Join(newRoot, e.Name())); err == nil {
			pending[e.Name()] = time.Now()
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(newRoot, ev.Name)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			taskID := strings.Split(rel, string(filepath.Separator))[0]
			if rel == taskID {
				// A new queue dir appeared; watch inside it too.
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := fw.Add(ev.Name); err != nil {
						slog.WarnContext(ctx, "failed to watch queue dir", "dir", ev.Name, "error", err)
					}
				}
			}
			pending[taskID] = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "watcher error", "error", err)

		case <-ticker.C:
			for taskID, last := range pending {
				if time.Since(last) < settleDelay {
					continue
				}
				delete(pending, taskID)
				if _, err := w.compiler.CompileSubmission(ctx, taskID); err != nil {
					slog.ErrorContext(ctx, "failed to compile watched submission",
						"task_id", taskID, "error", err)
					continue
				}
				slog.InfoContext(ctx, "compiled watched submission", "task_id", taskID)
			}
		}
	}
}
