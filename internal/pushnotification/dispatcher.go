package pushnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/doubtfire-lms/doubtfire-go/internal/eventbus"
	"github.com/doubtfire-lms/doubtfire-go/internal/project"
	"github.com/doubtfire-lms/doubtfire-go/internal/task"
)

// Dispatcher turns lifecycle events into push notifications. Assessments,
// feedback comments and portfolio results all go to the student; nothing
// else is pushed.
type Dispatcher struct {
	eventBus    *eventbus.Bus
	taskRepo    task.Repository
	projectRepo project.Repository
	sender      *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, taskRepo task.Repository, projectRepo project.Repository, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus:    eventBus,
		taskRepo:    taskRepo,
		projectRepo: projectRepo,
		sender:      sender,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			switch event.Type {
			case eventbus.EventTaskAssessed:
				d.handleTaskAssessed(ctx, event)
			case eventbus.EventCommentAdded:
				d.handleCommentAdded(ctx, event)
			case eventbus.EventPortfolioCompiled:
				d.handlePortfolio(ctx, event, "Portfolio ready", "Your portfolio has been compiled.")
			case eventbus.EventPortfolioFailed:
				d.handlePortfolio(ctx, event, "Portfolio failed", "Your portfolio could not be compiled. Check your submissions.")
			}
		}
	}
}

// student resolves the owning student of a task event via its project.
func (d *Dispatcher) student(ctx context.Context, taskID string) (*project.Project, *task.Task, error) {
	t, err := d.taskRepo.Get(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	p, err := d.projectRepo.Get(ctx, t.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return p, t, nil
}

func (d *Dispatcher) handleTaskAssessed(ctx context.Context, event *eventbus.Event) {
	p, t, err := d.student(ctx, event.ResourceID)
	if err != nil {
		slog.Error("push dispatcher: failed to resolve task", "id", event.ResourceID, "error", err)
		return
	}

	d.sender.SendToUser(ctx, p.StudentUsername, &NotificationPayload{
		Title: "Task assessed",
		Body:  fmt.Sprintf("Your task was marked %s.", t.Status.Meta().Name),
		URL:   fmt.Sprintf("/projects/%s/tasks/%s", t.ProjectID, t.ID),
		Tag:   event.ID,
	})
}

func (d *Dispatcher) handleCommentAdded(ctx context.Context, event *eventbus.Event) {
	p, t, err := d.student(ctx, event.ResourceID)
	if err != nil {
		slog.Error("push dispatcher: failed to resolve task", "id", event.ResourceID, "error", err)
		return
	}

	// A student commenting on their own task does not need a push.
	author := event.Metadata["author"]
	if author == p.StudentUsername {
		return
	}

	d.sender.SendToUser(ctx, p.StudentUsername, &NotificationPayload{
		Title: "New feedback",
		Body:  fmt.Sprintf("%s commented on your task.", author),
		URL:   fmt.Sprintf("/projects/%s/tasks/%s", t.ProjectID, t.ID),
		Tag:   event.ID,
	})
}

func (d *Dispatcher) handlePortfolio(ctx context.Context, event *eventbus.Event, title, body string) {
	p, err := d.projectRepo.Get(ctx, event.ResourceID)
	if err != nil {
		slog.Error("push dispatcher: failed to resolve project", "id", event.ResourceID, "error", err)
		return
	}

	d.sender.SendToUser(ctx, p.StudentUsername, &NotificationPayload{
		Title: title,
		Body:  body,
		URL:   fmt.Sprintf("/projects/%s/portfolio", p.ID),
		Tag:   event.ID,
	})
}
