package portfolio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/doubtfire-lms/doubtfire-go/internal/convert"
	"github.com/doubtfire-lms/doubtfire-go/internal/eventbus"
	"github.com/doubtfire-lms/doubtfire-go/internal/project"
	"github.com/doubtfire-lms/doubtfire-go/internal/task"
	"github.com/doubtfire-lms/doubtfire-go/internal/upload"
	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
)

type memTaskRepo struct {
	tasks map[string]*task.Task
}

func (r *memTaskRepo) Create(_ context.Context, t *task.Task) error {
	r.tasks[t.ID] = t
	return nil
}

func (r *memTaskRepo) Get(_ context.Context, id string) (*task.Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return t, nil
}

func (r *memTaskRepo) List(_ context.Context, projectID, _ string, _ task.Status) ([]*task.Task, error) {
	var all []*task.Task
	for _, t := range r.tasks {
		if projectID == "" || t.ProjectID == projectID {
			all = append(all, t)
		}
	}
	return all, nil
}

func (r *memTaskRepo) Update(_ context.Context, t *task.Task) error {
	r.tasks[t.ID] = t
	return nil
}

func (r *memTaskRepo) Delete(_ context.Context, id string) error {
	delete(r.tasks, id)
	return nil
}

type memDefRepo struct {
	defs []*task.Definition
}

func (r *memDefRepo) Create(context.Context, *task.Definition) error { return nil }
func (r *memDefRepo) Update(context.Context, *task.Definition) error { return nil }
func (r *memDefRepo) Delete(context.Context, string) error           { return nil }

func (r *memDefRepo) Get(_ context.Context, id string) (*task.Definition, error) {
	for _, d := range r.defs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "task definition not found", nil)
}

func (r *memDefRepo) List(_ context.Context, _ string) ([]*task.Definition, error) {
	// Already kept in target-date order by the fixtures.
	return r.defs, nil
}

type memProjectRepo struct {
	projects map[string]*project.Project
}

func (r *memProjectRepo) Create(_ context.Context, p *project.Project) error {
	r.projects[p.ID] = p
	return nil
}

func (r *memProjectRepo) Get(_ context.Context, id string) (*project.Project, error) {
	p, ok := r.projects[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "project not found", nil)
	}
	return p, nil
}

func (r *memProjectRepo) List(_ context.Context, unitID string) ([]*project.Project, error) {
	var all []*project.Project
	for _, p := range r.projects {
		if unitID == "" || p.UnitID == unitID {
			all = append(all, p)
		}
	}
	return all, nil
}

func (r *memProjectRepo) Update(_ context.Context, p *project.Project) error {
	r.projects[p.ID] = p
	return nil
}

func (r *memProjectRepo) Delete(_ context.Context, id string) error {
	delete(r.projects, id)
	return nil
}

type noopHooks struct{}

func (noopHooks) Start(context.Context, string) error          { return nil }
func (noopHooks) RecomputeStats(context.Context, string) error { return nil }

type fakeDocTools struct{}

func (fakeDocTools) IsValid(context.Context, string) bool   { return true }
func (fakeDocTools) Compress(context.Context, string) error { return nil }

// fakeMerger records the aggregation order and writes a stub pdf.
type fakeMerger struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeMerger) Aggregate(_ context.Context, inputs []string, out string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), inputs...))
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("%PDF-1.4 merged"), 0644)
}

type fixture struct {
	compiler *Compiler
	tasks    *memTaskRepo
	projects *memProjectRepo
	defs     *memDefRepo
	merger   *fakeMerger
	work     *upload.Workdir
	bus      *eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	work, err := upload.NewWorkdir(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkdir failed: %v", err)
	}

	target := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tasks := &memTaskRepo{tasks: map[string]*task.Task{
		"t1": {ID: "t1", ProjectID: "p1", DefinitionID: "d1", Status: task.StatusReadyToMark},
		"t2": {ID: "t2", ProjectID: "p1", DefinitionID: "d2", Status: task.StatusComplete},
		"t3": {ID: "t3", ProjectID: "p1", DefinitionID: "d3", Status: task.StatusFixAndResubmit},
	}}
	defs := &memDefRepo{defs: []*task.Definition{
		{ID: "d1", UnitCode: "COS10001", Name: "Pass Task 1.1", Weighting: 1, TargetDate: target},
		{ID: "d2", UnitCode: "COS10001", Name: "Pass Task 1.2", Weighting: 1, TargetDate: target.AddDate(0, 0, 7)},
		{ID: "d3", UnitCode: "COS10001", Name: "Pass Task 1.3", Weighting: 1, TargetDate: target.AddDate(0, 0, 14)},
	}}
	projects := &memProjectRepo{projects: map[string]*project.Project{
		"p1": {
			ID: "p1", UnitCode: "COS10001", UnitID: "u1",
			StudentUsername: "astudent", StudentName: "A. Student", TutorName: "A. Tutor",
		},
	}}

	bus := eventbus.New()
	lifecycle := task.NewLifecycle(tasks, noopHooks{}, bus)
	merger := &fakeMerger{}
	compiler := NewCompiler(tasks, defs, projects, lifecycle, convert.NewConverter(fakeDocTools{}), merger, work, bus)

	return &fixture{
		compiler: compiler,
		tasks:    tasks,
		projects: projects,
		defs:     defs,
		merger:   merger,
		work:     work,
		bus:      bus,
	}
}

func stage(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCompileSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	newDir := f.work.NewDir("t1")
	stage(t, newDir, "000.document.pdf", "%PDF-1.4 essay")
	stage(t, newDir, "001.code.c", "int main(void) { return 0; }\n")

	result, err := f.compiler.CompileSubmission(ctx, "t1")
	if err != nil {
		t.Fatalf("CompileSubmission failed: %v", err)
	}
	if len(result.FailedIndexes) != 0 {
		t.Errorf("unexpected failed indexes: %v", result.FailedIndexes)
	}

	// Cover page leads, then parts in queue order.
	if len(f.merger.calls) != 1 {
		t.Fatalf("expected one aggregation, got %d", len(f.merger.calls))
	}
	inputs := f.merger.calls[0]
	if len(inputs) != 3 {
		t.Fatalf("expected cover + 2 parts, got %v", inputs)
	}
	if filepath.Base(inputs[0]) != "cover.pdf" {
		t.Errorf("first input should be the cover, got %s", inputs[0])
	}
	if filepath.Base(inputs[1]) != "000.pdf" || filepath.Base(inputs[2]) != "001.pdf" {
		t.Errorf("parts out of order: %v", inputs[1:])
	}

	// Evidence recorded on the task and present on disk.
	stored, _ := f.tasks.Get(ctx, "t1")
	if stored.PortfolioEvidence != result.EvidencePath {
		t.Errorf("task evidence = %q, want %q", stored.PortfolioEvidence, result.EvidencePath)
	}
	if _, err := os.Stat(result.EvidencePath); err != nil {
		t.Errorf("evidence file missing: %v", err)
	}

	// Queue moved new -> done.
	if _, err := os.Stat(newDir); !os.IsNotExist(err) {
		t.Error("new dir should be gone after compile")
	}
	doneDir := f.work.DoneDir("COS10001", "u1", "astudent", "t1")
	if _, err := os.Stat(filepath.Join(doneDir, "000.document.pdf")); err != nil {
		t.Errorf("staged source missing from done dir: %v", err)
	}
}

func TestCompileSubmissionReportsFailedParts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	newDir := f.work.NewDir("t1")
	stage(t, newDir, "000.code.c", "int main(void) { return 0; }\n")
	// Not an image at all; conversion of this part must fail.
	stage(t, newDir, "001.image.png", "this is not a png")

	result, err := f.compiler.CompileSubmission(ctx, "t1")
	if err != nil {
		t.Fatalf("CompileSubmission failed: %v", err)
	}
	if len(result.FailedIndexes) != 1 || result.FailedIndexes[0] != 1 {
		t.Errorf("failed indexes = %v, want [1]", result.FailedIndexes)
	}

	inputs := f.merger.calls[0]
	if len(inputs) != 2 {
		t.Errorf("expected cover + 1 surviving part, got %v", inputs)
	}
}

func TestCompileSubmissionRetryAfterFailedAggregate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	newDir := f.work.NewDir("t1")
	stage(t, newDir, "000.code.c", "int main(void) { return 0; }\n")

	f.merger.err = errors.New("pdftk exploded")
	if _, err := f.compiler.CompileSubmission(ctx, "t1"); err == nil {
		t.Fatal("compile should fail when aggregation fails")
	}

	// The staged files stay claimable; the next compile picks them up
	// without a fresh upload.
	f.merger.err = nil
	result, err := f.compiler.CompileSubmission(ctx, "t1")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if _, err := os.Stat(result.EvidencePath); err != nil {
		t.Errorf("evidence missing after retry: %v", err)
	}
	doneDir := f.work.DoneDir("COS10001", "u1", "astudent", "t1")
	if _, err := os.Stat(filepath.Join(doneDir, "000.code.c")); err != nil {
		t.Errorf("staged source missing from done dir after retry: %v", err)
	}
}

func TestCompileSubmissionSerializesPerTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	newDir := f.work.NewDir("t1")
	stage(t, newDir, "000.code.c", "int main(void) { return 0; }\n")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.compiler.CompileSubmission(ctx, "t1")
		}(i)
	}
	wg.Wait()

	var ok, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case cerr.IsCode(err, cerr.NotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || notFound != 1 {
		t.Fatalf("want one success and one empty-queue rejection, got %v", errs)
	}
	if len(f.merger.calls) != 1 {
		t.Errorf("expected one aggregation, got %d", len(f.merger.calls))
	}
}

func TestCompileSubmissionNoQueue(t *testing.T) {
	f := newFixture(t)
	_, err := f.compiler.CompileSubmission(context.Background(), "t1")
	if !cerr.IsCode(err, cerr.NotFound) {
		t.Errorf("expected NotFound for missing queue, got %v", err)
	}
}

func TestCompilePortfolio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Give the included tasks evidence files; t3 (fix_and_resubmit) has
	// evidence too but must stay out of the portfolio.
	dir := t.TempDir()
	for id, tk := range f.tasks.tasks {
		p := filepath.Join(dir, id+".pdf")
		os.WriteFile(p, []byte("%PDF-1.4 "+id), 0644)
		tk.PortfolioEvidence = p
	}
	f.tasks.tasks["t1"].Status = task.StatusComplete
	f.tasks.tasks["t2"].Status = task.StatusFixAndInclude

	subID, ch := f.bus.Subscribe(8)
	defer f.bus.Unsubscribe(subID)

	out, err := f.compiler.CompilePortfolio(ctx, "p1")
	if err != nil {
		t.Fatalf("CompilePortfolio failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("portfolio missing: %v", err)
	}

	inputs := f.merger.calls[0]
	if len(inputs) != 3 {
		t.Fatalf("expected cover + 2 evidences, got %v", inputs)
	}
	// Definition order: d1 (t1) before d2 (t2); d3 (t3) excluded.
	if filepath.Base(inputs[1]) != "t1.pdf" || filepath.Base(inputs[2]) != "t2.pdf" {
		t.Errorf("portfolio order wrong: %v", inputs[1:])
	}

	select {
	case ev := <-ch:
		if ev.Type != eventbus.EventPortfolioCompiled {
			t.Errorf("event type = %s, want %s", ev.Type, eventbus.EventPortfolioCompiled)
		}
	case <-time.After(time.Second):
		t.Error("portfolio compiled event not published")
	}
}

func TestCompilePortfolioNothingReady(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	subID, ch := f.bus.Subscribe(8)
	defer f.bus.Unsubscribe(subID)

	_, err := f.compiler.CompilePortfolio(ctx, "p1")
	if !cerr.IsCode(err, cerr.FailedPrecondition) {
		t.Errorf("expected FailedPrecondition, got %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != eventbus.EventPortfolioFailed {
			t.Errorf("event type = %s, want %s", ev.Type, eventbus.EventPortfolioFailed)
		}
	case <-time.After(time.Second):
		t.Error("portfolio failed event not published")
	}
}
