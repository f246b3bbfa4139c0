package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/doubtfire-lms/doubtfire-go/internal/eventbus"
	"github.com/doubtfire-lms/doubtfire-go/pkg/cerr"
)

// submissionDebounce collapses repeated submits into one record: a resubmit
// within this window updates the latest submission's timestamp instead of
// appending a new record.
const submissionDebounce = time.Hour

// Actor is the acting user, resolved by the caller before the lifecycle is
// invoked. The lifecycle never reads ambient user state.
type Actor struct {
	Username string
	Role     Role
}

// TransitionOptions modifies how a transition is applied. Bulk suppresses
// the per-transition stats recompute so batch callers can recompute once at
// the end.
type TransitionOptions struct {
	Bulk bool
}

// Lifecycle applies status transitions to tasks and maintains their
// submission and engagement history. All mutations go through the
// repository; a failed save aborts the transition with nothing recorded.
type Lifecycle struct {
	repo     Repository
	projects ProjectHooks
	bus      *eventbus.Bus
	now      func() time.Time
}

func NewLifecycle(repo Repository, projects ProjectHooks, bus *eventbus.Bus) *Lifecycle {
	return &Lifecycle{
		repo:     repo,
		projects: projects,
		bus:      bus,
		now:      time.Now,
	}
}

// WithClock overrides the lifecycle's time source. Used by tests and by
// backdated imports.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// TriggerTransition applies the trigger to the task on behalf of actor and
// returns the updated task. Unknown triggers, missing roles and terminal
// states are rejected with typed errors; in every rejection the stored task
// is untouched.
func (l *Lifecycle) TriggerTransition(ctx context.Context, taskID string, trigger string, actor Actor, opts TransitionOptions) (*Task, error) {
	t, err := l.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	tr, ok := ParseTrigger(strings.TrimSpace(trigger))
	if !ok {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status trigger %q", trigger), nil)
	}
	if !actor.Role.Enrolled() {
		return nil, cerr.NewError(cerr.PermissionDenied, "not enrolled in this task's project", nil)
	}
	if tr.TutorOnly() && !actor.Role.CanAssess() {
		return nil, cerr.NewError(cerr.PermissionDenied, fmt.Sprintf("only tutors may mark a task %s", tr.Target()), nil)
	}

	switch {
	case tr == TriggerReadyToMark:
		err = l.submit(ctx, t)
	case tr.TutorOnly():
		err = l.assess(ctx, t, tr.Target(), actor.Username)
	default:
		err = l.engage(ctx, t, tr.Target())
	}
	if err != nil {
		return nil, err
	}

	if !opts.Bulk {
		if err := l.projects.RecomputeStats(ctx, t.ProjectID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// engage moves the task to a pre-submission status and records the
// engagement. Complete tasks are closed to further engagement.
func (l *Lifecycle) engage(ctx context.Context, t *Task, target Status) error {
	if t.Status.Terminal() {
		return cerr.NewError(cerr.FailedPrecondition, "task is complete and cannot be re-engaged", nil)
	}

	prev := t.Status
	t.Status = target
	t.AwaitingSignoff = false
	t.CompletionDate = nil
	t.Engagements = append(t.Engagements, Engagement{
		ID:             ulid.Make().String(),
		EngagementTime: l.now(),
		Engagement:     target.Meta().Name,
	})
	t.UpdatedAt = l.now()

	if err := l.repo.Update(ctx, t); err != nil {
		return err
	}
	if err := l.projects.Start(ctx, t.ProjectID); err != nil {
		return err
	}

	l.bus.PublishNew(eventbus.EventTaskStatusChanged, t.ID, map[string]string{
		"project_id": t.ProjectID,
		"from":       string(prev),
		"to":         string(target),
	})
	return nil
}

// submit marks the task ready for signoff and stamps a submission record.
// A resubmit inside the debounce window refreshes the latest record's
// timestamp rather than appending a duplicate.
func (l *Lifecycle) submit(ctx context.Context, t *Task) error {
	if t.Status.Terminal() {
		return cerr.NewError(cerr.FailedPrecondition, "task is complete and cannot be resubmitted", nil)
	}

	prev := t.Status
	now := l.now()
	t.Status = StatusReadyToMark
	t.AwaitingSignoff = true
	t.CompletionDate = &now

	if sub := t.latestSubmission(); sub != nil && now.Sub(sub.SubmissionTime) < submissionDebounce {
		sub.SubmissionTime = now
	} else {
		t.Submissions = append(t.Submissions, Submission{
			ID:             ulid.Make().String(),
			SubmissionTime: now,
		})
	}
	t.UpdatedAt = now

	if err := l.repo.Update(ctx, t); err != nil {
		return err
	}
	if err := l.projects.Start(ctx, t.ProjectID); err != nil {
		return err
	}

	l.bus.PublishNew(eventbus.EventTaskSubmitted, t.ID, map[string]string{
		"project_id": t.ProjectID,
		"from":       string(prev),
	})
	return nil
}

// assess records a tutor's outcome. Assessed outcomes annotate the latest
// submission with the assessment time, assessor and outcome, creating one
// when the student never formally submitted.
func (l *Lifecycle) assess(ctx context.Context, t *Task, target Status, assessor string) error {
	if t.Status.Terminal() {
		return cerr.NewError(cerr.FailedPrecondition, "task is complete and cannot be reassessed", nil)
	}

	prev := t.Status
	now := l.now()
	t.Status = target
	t.AwaitingSignoff = false

	// Completion date tracks ready-or-complete states exactly.
	if target.ReadyOrComplete() {
		if t.CompletionDate == nil {
			t.CompletionDate = &now
		}
	} else {
		t.CompletionDate = nil
	}

	if target.Assessed() {
		assessTime := now
		if sub := t.latestSubmission(); sub != nil {
			sub.AssessmentTime = &assessTime
			sub.Assessor = assessor
			sub.Outcome = target.Meta().Name
		} else {
			t.Submissions = append(t.Submissions, Submission{
				ID:             ulid.Make().String(),
				SubmissionTime: now,
				AssessmentTime: &assessTime,
				Assessor:       assessor,
				Outcome:        target.Meta().Name,
			})
		}
	}
	t.UpdatedAt = now

	if err := l.repo.Update(ctx, t); err != nil {
		return err
	}
	if err := l.projects.Start(ctx, t.ProjectID); err != nil {
		return err
	}

	meta := map[string]string{
		"project_id": t.ProjectID,
		"from":       string(prev),
		"to":         string(target),
		"assessor":   assessor,
	}
	if target.Assessed() {
		l.bus.PublishNew(eventbus.EventTaskAssessed, t.ID, meta)
	} else {
		l.bus.PublishNew(eventbus.EventTaskStatusChanged, t.ID, meta)
	}
	return nil
}

// AddComment appends a comment to the task's thread. A comment repeating
// the author's previous text is dropped and the existing comment returned.
func (l *Lifecycle) AddComment(ctx context.Context, taskID string, actor Actor, text string) (*Comment, error) {
	if !actor.Role.Enrolled() {
		return nil, cerr.NewError(cerr.PermissionDenied, "not enrolled in this task's project", nil)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "comment text is empty", nil)
	}

	t, err := l.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if t.duplicateComment(actor.Username, text) {
		return t.lastComment(), nil
	}

	comment := Comment{
		ID:        ulid.Make().String(),
		Author:    actor.Username,
		Text:      text,
		CreatedAt: l.now(),
	}
	t.Comments = append(t.Comments, comment)
	t.UpdatedAt = comment.CreatedAt

	if err := l.repo.Update(ctx, t); err != nil {
		return nil, err
	}

	l.bus.PublishNew(eventbus.EventCommentAdded, t.ID, map[string]string{
		"project_id": t.ProjectID,
		"author":     actor.Username,
	})
	return &comment, nil
}

// DeleteComment removes a comment, honouring own/other permissions.
func (l *Lifecycle) DeleteComment(ctx context.Context, taskID, commentID string, actor Actor) error {
	t, err := l.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}

	idx := -1
	for i := range t.Comments {
		if t.Comments[i].ID == commentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return cerr.NewError(cerr.NotFound, "comment not found", nil)
	}

	own := t.Comments[idx].Author == actor.Username
	if !actor.Role.CanDeleteComment(own) {
		return cerr.NewError(cerr.PermissionDenied, "cannot delete another user's comment", nil)
	}

	t.Comments = append(t.Comments[:idx], t.Comments[idx+1:]...)
	t.UpdatedAt = l.now()
	return l.repo.Update(ctx, t)
}

// UpdateMaxPctSimilar records the highest plagiarism match reported by an
// external scan and refreshes project stats.
func (l *Lifecycle) UpdateMaxPctSimilar(ctx context.Context, taskID string, pct float64) error {
	if pct < 0 || pct > 100 {
		return cerr.NewError(cerr.OutOfRange, "similarity percentage must be within 0-100", nil)
	}
	t, err := l.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	t.MaxPctSimilar = pct
	t.UpdatedAt = l.now()
	if err := l.repo.Update(ctx, t); err != nil {
		return err
	}
	return l.projects.RecomputeStats(ctx, t.ProjectID)
}

// SetPortfolioEvidence records the path of the compiled submission PDF.
func (l *Lifecycle) SetPortfolioEvidence(ctx context.Context, taskID, path string) error {
	t, err := l.repo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	t.PortfolioEvidence = path
	t.UpdatedAt = l.now()
	return l.repo.Update(ctx, t)
}
