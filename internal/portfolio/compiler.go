package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/doubtfire-lms/doubtfire-go/internal/convert"
	"github.com/doubtfire-lms/doubtfire-go/internal/eventbus"
	"github.com/doubtfire-lms/doubtfire-go/internal/project"
	"github.com/doubtfire-lms/doubtfire-go/internal/task"
	"github.com/doubtfire-lms/doubtfire-go/internal/upload"
	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
)

// compileConcurrency bounds how many portfolios a batch run compiles at
// once. The external PDF tools are the bottleneck, not the goroutines.
const compileConcurrency = 4

// Aggregator merges converted parts into one PDF.
type Aggregator interface {
	Aggregate(ctx context.Context, inputs []string, out string) error
}

// Result reports what one submission compile produced. FailedIndexes
// lists queue slots whose conversion failed; those parts are missing from
// the evidence PDF but do not abort the compile.
type Result struct {
	TaskID        string
	EvidencePath  string
	FailedIndexes []int
}

// Compiler drives the staged-file pipeline: files move from new to
// in_process while owned by a compile, then to done once their PDF is
// aggregated and recorded on the task.
type Compiler struct {
	tasks     task.Repository
	defs      task.DefinitionRepository
	projects  project.Repository
	lifecycle *task.Lifecycle
	converter *convert.Converter
	merger    Aggregator
	work      *upload.Workdir
	bus       *eventbus.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCompiler(
	tasks task.Repository,
	defs task.DefinitionRepository,
	projects project.Repository,
	lifecycle *task.Lifecycle,
	converter *convert.Converter,
	merger Aggregator,
	work *upload.Workdir,
	bus *eventbus.Bus,
) *Compiler {
	return &Compiler{
		tasks:     tasks,
		defs:      defs,
		projects:  projects,
		lifecycle: lifecycle,
		converter: converter,
		merger:    merger,
		work:      work,
		bus:       bus,
		locks:     map[string]*sync.Mutex{},
	}
}

// taskLock serializes compiles of one task's staging directory. The HTTP
// compile endpoint, the intake watcher and the CLI all funnel through
// CompileSubmission, so this is the single-writer guarantee for the queue.
func (c *Compiler) taskLock(taskID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[taskID] = l
	}
	return l
}

// CompileSubmission converts a task's staged uploads into its evidence
// PDF. The queue moves to in_process first so a concurrent upload or a
// second compile cannot see the same files. A failed compile leaves the
// files in in_process and the next compile of the task claims them, so a
// broken aggregation can be retried without re-uploading.
func (c *Compiler) CompileSubmission(ctx context.Context, taskID string) (*Result, error) {
	lock := c.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, err := c.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	def, err := c.defs.Get(ctx, t.DefinitionID)
	if err != nil {
		return nil, err
	}
	p, err := c.projects.Get(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}

	newDir := c.work.NewDir(taskID)
	procDir := c.work.InProcessDir(taskID)
	if _, err := os.Stat(newDir); err == nil {
		if err := upload.MoveDir(newDir, procDir); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", err)
		}
	} else if _, err := os.Stat(procDir); err != nil {
		return nil, cerr.NewError(cerr.NotFound, "no staged uploads for task", err)
	}

	staged, err := upload.ListStaged(procDir)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}
	if len(staged) == 0 {
		return nil, cerr.NewError(cerr.FailedPrecondition, "staged upload queue is empty", nil)
	}

	partsDir := filepath.Join(procDir, "pdf")
	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}

	cover := filepath.Join(partsDir, "cover.pdf")
	if err := convert.CoverPDF(c.submissionCover(t, def, p), cover); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}

	parts := []string{cover}
	var failed []int
	for _, f := range staged {
		dst := filepath.Join(partsDir, fmt.Sprintf("%03d.pdf", f.Index))
		if err := c.converter.ToPDF(ctx, f, dst); err != nil {
			slog.WarnContext(ctx, "failed to convert staged file",
				"task_id", taskID, "name", f.Name, "error", err)
			failed = append(failed, f.Index)
			continue
		}
		parts = append(parts, dst)
	}
	if len(parts) == 1 {
		return nil, cerr.NewError(cerr.Internal, "no staged file could be converted", nil)
	}

	evidence := c.work.EvidencePath(p.UnitCode, p.UnitID, p.StudentUsername, taskID)
	if err := os.MkdirAll(filepath.Dir(evidence), 0o755); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}
	if err := c.merger.Aggregate(ctx, parts, evidence); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}

	if err := c.lifecycle.SetPortfolioEvidence(ctx, taskID, evidence); err != nil {
		return nil, err
	}

	os.RemoveAll(partsDir)
	doneDir := c.work.DoneDir(p.UnitCode, p.UnitID, p.StudentUsername, taskID)
	if err := upload.MoveDir(procDir, doneDir); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}

	return &Result{
		TaskID:        taskID,
		EvidencePath:  evidence,
		FailedIndexes: failed,
	}, nil
}

func (c *Compiler) submissionCover(t *task.Task, def *task.Definition, p *project.Project) convert.CoverData {
	data := convert.CoverData{
		UnitCode:        p.UnitCode,
		TaskName:        def.Name,
		StudentName:     p.StudentName,
		StudentUsername: p.StudentUsername,
		TutorName:       p.TutorName,
	}
	if t.Assessed() || t.Complete() {
		data.Outcome = t.Status.Meta().Name
	}
	if t.CompletionDate != nil {
		data.SubmittedAt = t.CompletionDate.Format("2 Jan 2006 15:04")
	}
	return data
}

// CompilePortfolio merges a project's included evidence into one PDF, in
// definition target-date order, behind a generated cover page. A compile
// failure is published on the bus so the student can be told.
func (c *Compiler) CompilePortfolio(ctx context.Context, projectID string) (string, error) {
	path, err := c.compilePortfolio(ctx, projectID)
	if err != nil {
		c.bus.PublishNew(eventbus.EventPortfolioFailed, projectID, map[string]string{
			"error": err.Error(),
		})
		return "", err
	}
	c.bus.PublishNew(eventbus.EventPortfolioCompiled, projectID, map[string]string{
		"path": path,
	})
	return path, nil
}

func (c *Compiler) compilePortfolio(ctx context.Context, projectID string) (string, error) {
	p, err := c.projects.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	defs, err := c.defs.List(ctx, p.UnitCode)
	if err != nil {
		return "", err
	}
	tasks, err := c.tasks.List(ctx, projectID, "", "")
	if err != nil {
		return "", err
	}
	byDef := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byDef[t.DefinitionID] = t
	}

	out := c.work.PortfolioPath(p.UnitCode, p.UnitID, p.StudentUsername)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", cerr.NewError(cerr.Internal, "server error", err)
	}

	cover := filepath.Join(filepath.Dir(out), "cover.pdf")
	coverData := convert.CoverData{
		UnitCode:        p.UnitCode,
		TaskName:        "Portfolio",
		StudentName:     p.StudentName,
		StudentUsername: p.StudentUsername,
		TutorName:       p.TutorName,
	}
	if err := convert.CoverPDF(coverData, cover); err != nil {
		return "", cerr.NewError(cerr.Internal, "server error", err)
	}
	defer os.Remove(cover)

	parts := []string{cover}
	for _, def := range defs {
		t, ok := byDef[def.ID]
		if !ok || !includeInPortfolio(t) {
			continue
		}
		parts = append(parts, t.PortfolioEvidence)
	}
	if len(parts) == 1 {
		return "", cerr.NewError(cerr.FailedPrecondition, "no task evidence ready for the portfolio", nil)
	}

	if err := c.merger.Aggregate(ctx, parts, out); err != nil {
		return "", cerr.NewError(cerr.Internal, "server error", err)
	}
	return out, nil
}

// includeInPortfolio selects the tasks whose evidence belongs in the final
// portfolio: completed work, plus fixes the tutor chose to include.
func includeInPortfolio(t *task.Task) bool {
	if t.PortfolioEvidence == "" {
		return false
	}
	return t.Complete() || t.Status == task.StatusFixAndInclude || t.Discuss()
}

// CompileAll compiles every portfolio in a unit. Per-project failures are
// collected rather than aborting the batch; project stats are recomputed
// once per project at the end.
func (c *Compiler) CompileAll(ctx context.Context, unitID string) error {
	projects, err := c.projects.List(ctx, unitID)
	if err != nil {
		return err
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(compileConcurrency)
	for _, pr := range projects {
		pr := pr
		p.Go(func(ctx context.Context) error {
			if _, err := c.CompilePortfolio(ctx, pr.ID); err != nil {
				return fmt.Errorf("project %s: %w", pr.ID, err)
			}
			return nil
		})
	}
	return p.Wait()
}
