package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubtfire-lms/doubtfire-go/internal/eventbus"
	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
)

// memRepo hands out copies the way a real repository would, so a rejected
// transition can be checked against the stored task.
type memRepo struct {
	tasks map[string]*Task
}

func newMemRepo(tasks ...*Task) *memRepo {
	r := &memRepo{tasks: make(map[string]*Task)}
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	return r
}

func cloneTask(t *Task) *Task {
	c := *t
	c.Submissions = append([]Submission(nil), t.Submissions...)
	c.Engagements = append([]Engagement(nil), t.Engagements...)
	c.Comments = append([]Comment(nil), t.Comments...)
	return &c
}

func (r *memRepo) Create(_ context.Context, t *Task) error {
	r.tasks[t.ID] = cloneTask(t)
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return cloneTask(t), nil
}

func (r *memRepo) List(_ context.Context, projectID, definitionID string, status Status) ([]*Task, error) {
	var all []*Task
	for _, t := range r.tasks {
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if definitionID != "" && t.DefinitionID != definitionID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		all = append(all, cloneTask(t))
	}
	return all, nil
}

func (r *memRepo) Update(_ context.Context, t *Task) error {
	if _, ok := r.tasks[t.ID]; !ok {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	r.tasks[t.ID] = cloneTask(t)
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	delete(r.tasks, id)
	return nil
}

type hookRecorder struct {
	starts     int
	recomputes int
}

func (h *hookRecorder) Start(context.Context, string) error          { h.starts++; return nil }
func (h *hookRecorder) RecomputeStats(context.Context, string) error { h.recomputes++; return nil }

func newTestLifecycle(t *Task) (*Lifecycle, *memRepo, *hookRecorder) {
	repo := newMemRepo(t)
	hooks := &hookRecorder{}
	return NewLifecycle(repo, hooks, eventbus.New()), repo, hooks
}

var (
	student = Actor{Username: "astudent", Role: RoleStudent}
	tutor   = Actor{Username: "atutor", Role: RoleTutor}
)

func TestTriggerTransitionEngage(t *testing.T) {
	ctx := context.Background()
	lc, repo, hooks := newTestLifecycle(&Task{ID: "t1", ProjectID: "p1", Status: StatusNotSubmitted})

	got, err := lc.TriggerTransition(ctx, "t1", "working_on_it", student, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusWorkingOnIt, got.Status)
	assert.Nil(t, got.CompletionDate)
	require.Len(t, got.Engagements, 1)
	assert.Equal(t, "Working On It", got.Engagements[0].Engagement)

	stored, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusWorkingOnIt, stored.Status)
	assert.Equal(t, 1, hooks.starts)
	assert.Equal(t, 1, hooks.recomputes)
}

func TestTriggerTransitionSubmit(t *testing.T) {
	ctx := context.Background()
	lc, _, _ := newTestLifecycle(&Task{ID: "t1", ProjectID: "p1", Status: StatusWorkingOnIt})

	got, err := lc.TriggerTransition(ctx, "t1", "rtm", student, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusReadyToMark, got.Status)
	assert.True(t, got.AwaitingSignoff)
	require.NotNil(t, got.CompletionDate)
	require.Len(t, got.Submissions, 1)
	assert.Empty(t, got.Submissions[0].Outcome)
}

func TestSubmitDebounce(t *testing.T) {
	ctx := context.Background()
	lc, _, _ := newTestLifecycle(&Task{ID: "t1", ProjectID: "p1", Status: StatusNotSubmitted})

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := base
	lc.WithClock(func() time.Time { return now })

	_, err := lc.TriggerTransition(ctx, "t1", "rtm", student, TransitionOptions{})
	require.NoError(t, err)

	// Second submit inside the window refreshes the record in place.
	now = base.Add(30 * time.Minute)
	got, err := lc.TriggerTransition(ctx, "t1", "rtm", student, TransitionOptions{})
	require.NoError(t, err)
	require.Len(t, got.Submissions, 1)
	assert.Equal(t, now, got.Submissions[0].SubmissionTime)

	// A submit past the window appends a new record.
	now = base.Add(2 * time.Hour)
	got, err = lc.TriggerTransition(ctx, "t1", "rtm", student, TransitionOptions{})
	require.NoError(t, err)
	assert.Len(t, got.Submissions, 2)
}

func TestAssessComplete(t *testing.T) {
	ctx := context.Background()
	submitted := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	lc, _, _ := newTestLifecycle(&Task{
		ID: "t1", ProjectID: "p1", Status: StatusReadyToMark,
		AwaitingSignoff: true,
		CompletionDate:  &submitted,
		Submissions:     []Submission{{ID: "s1", SubmissionTime: submitted}},
	})

	got, err := lc.TriggerTransition(ctx, "t1", "complete", tutor, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.False(t, got.AwaitingSignoff)
	// Completion date set at submission survives the assessment.
	require.NotNil(t, got.CompletionDate)
	assert.Equal(t, submitted, *got.CompletionDate)

	require.Len(t, got.Submissions, 1)
	sub := got.Submissions[0]
	require.NotNil(t, sub.AssessmentTime)
	assert.Equal(t, "atutor", sub.Assessor)
	assert.Equal(t, "Complete", sub.Outcome)
}

func TestAssessFixClearsCompletion(t *testing.T) {
	ctx := context.Background()
	submitted := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	lc, _, _ := newTestLifecycle(&Task{
		ID: "t1", ProjectID: "p1", Status: StatusReadyToMark,
		CompletionDate: &submitted,
		Submissions:    []Submission{{ID: "s1", SubmissionTime: submitted}},
	})

	got, err := lc.TriggerTransition(ctx, "t1", "fix", tutor, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFixAndResubmit, got.Status)
	assert.Nil(t, got.CompletionDate)
	assert.Equal(t, "Fix and Resubmit", got.Submissions[0].Outcome)
}

func TestAssessDiscussLeavesSubmissionUnannotated(t *testing.T) {
	ctx := context.Background()
	submitted := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	lc, _, _ := newTestLifecycle(&Task{
		ID: "t1", ProjectID: "p1", Status: StatusReadyToMark,
		CompletionDate: &submitted,
		Submissions:    []Submission{{ID: "s1", SubmissionTime: submitted}},
	})

	got, err := lc.TriggerTransition(ctx, "t1", "d", tutor, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusDiscuss, got.Status)
	require.NotNil(t, got.CompletionDate)
	assert.Empty(t, got.Submissions[0].Outcome)
	assert.Nil(t, got.Submissions[0].AssessmentTime)
}

func TestAssessWithoutSubmissionCreatesRecord(t *testing.T) {
	ctx := context.Background()
	lc, _, _ := newTestLifecycle(&Task{ID: "t1", ProjectID: "p1", Status: StatusWorkingOnIt})

	got, err := lc.TriggerTransition(ctx, "t1", "complete", tutor, TransitionOptions{})
	require.NoError(t, err)
	require.Len(t, got.Submissions, 1)
	assert.Equal(t, "Complete", got.Submissions[0].Outcome)
}

func TestTransitionRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown trigger", func(t *testing.T) {
		lc, repo, _ := newTestLifecycle(&Task{ID: "t1", Status: StatusWorkingOnIt})
		_, err := lc.TriggerTransition(ctx, "t1", "promote", student, TransitionOptions{})
		assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

		stored, _ := repo.Get(ctx, "t1")
		assert.Equal(t, StatusWorkingOnIt, stored.Status)
	})

	t.Run("student cannot assess", func(t *testing.T) {
		lc, repo, _ := newTestLifecycle(&Task{ID: "t1", Status: StatusReadyToMark})
		_, err := lc.TriggerTransition(ctx, "t1", "complete", student, TransitionOptions{})
		assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

		stored, _ := repo.Get(ctx, "t1")
		assert.Equal(t, StatusReadyToMark, stored.Status)
		assert.Empty(t, stored.Submissions)
	})

	t.Run("convenor cannot assess", func(t *testing.T) {
		lc, _, _ := newTestLifecycle(&Task{ID: "t1", Status: StatusReadyToMark})
		convenor := Actor{Username: "aconvenor", Role: RoleConvenor}
		_, err := lc.TriggerTransition(ctx, "t1", "complete", convenor, TransitionOptions{})
		assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})

	t.Run("no role", func(t *testing.T) {
		lc, _, _ := newTestLifecycle(&Task{ID: "t1", Status: StatusWorkingOnIt})
		_, err := lc.TriggerTransition(ctx, "t1", "rtm", Actor{Username: "ghost"}, TransitionOptions{})
		assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	})

	t.Run("complete task is closed", func(t *testing.T) {
		done := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
		lc, repo, _ := newTestLifecycle(&Task{ID: "t1", Status: StatusComplete, CompletionDate: &done})

		for _, trigger := range []string{"rtm", "working_on_it", "redo"} {
			actor := student
			if trigger == "redo" {
				actor = tutor
			}
			_, err := lc.TriggerTransition(ctx, "t1", trigger, actor, TransitionOptions{})
			assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition), "trigger %s", trigger)
		}

		stored, _ := repo.Get(ctx, "t1")
		assert.Equal(t, StatusComplete, stored.Status)
		assert.Equal(t, done, *stored.CompletionDate)
	})
}

func TestBulkSuppressesRecompute(t *testing.T) {
	ctx := context.Background()
	lc, _, hooks := newTestLifecycle(&Task{ID: "t1", ProjectID: "p1", Status: StatusNotSubmitted})

	_, err := lc.TriggerTransition(ctx, "t1", "working_on_it", student, TransitionOptions{Bulk: true})
	require.NoError(t, err)
	assert.Equal(t, 0, hooks.recomputes)
	assert.Equal(t, 1, hooks.starts)
}

func TestAddComment(t *testing.T) {
	ctx := context.Background()
	lc, repo, _ := newTestLifecycle(&Task{ID: "t1", ProjectID: "p1", Status: StatusWorkingOnIt})

	c1, err := lc.AddComment(ctx, "t1", student, "  how do I start?  ")
	require.NoError(t, err)
	assert.Equal(t, "how do I start?", c1.Text)

	// Exact repeat returns the existing comment without appending.
	c2, err := lc.AddComment(ctx, "t1", student, "how do I start?")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	stored, _ := repo.Get(ctx, "t1")
	assert.Len(t, stored.Comments, 1)

	_, err = lc.AddComment(ctx, "t1", student, "   ")
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestDeleteComment(t *testing.T) {
	ctx := context.Background()
	lc, repo, _ := newTestLifecycle(&Task{ID: "t1", ProjectID: "p1", Status: StatusWorkingOnIt, Comments: []Comment{
		{ID: "c1", Author: "astudent", Text: "first"},
		{ID: "c2", Author: "atutor", Text: "second"},
	}})

	// A student may not remove another user's comment.
	err := lc.DeleteComment(ctx, "t1", "c2", student)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	// But may remove their own.
	require.NoError(t, lc.DeleteComment(ctx, "t1", "c1", student))

	// A tutor may remove anyone's.
	require.NoError(t, lc.DeleteComment(ctx, "t1", "c2", tutor))

	stored, _ := repo.Get(ctx, "t1")
	assert.Empty(t, stored.Comments)

	err = lc.DeleteComment(ctx, "t1", "missing", tutor)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestUpdateMaxPctSimilar(t *testing.T) {
	ctx := context.Background()
	lc, repo, hooks := newTestLifecycle(&Task{ID: "t1", ProjectID: "p1", Status: StatusWorkingOnIt})

	require.NoError(t, lc.UpdateMaxPctSimilar(ctx, "t1", 42.5))
	stored, _ := repo.Get(ctx, "t1")
	assert.Equal(t, 42.5, stored.MaxPctSimilar)
	assert.Equal(t, 1, hooks.recomputes)

	err := lc.UpdateMaxPctSimilar(ctx, "t1", 120)
	assert.True(t, cerr.IsCode(err, cerr.OutOfRange))
	err = lc.UpdateMaxPctSimilar(ctx, "t1", -1)
	assert.True(t, cerr.IsCode(err, cerr.OutOfRange))
}
