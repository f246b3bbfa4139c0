package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doubtfire-lms/doubtfire-go/internal/task"
)

// statsOrder fixes the column order of the task stats distribution.
var statsOrder = []task.Status{
	task.StatusNotSubmitted,
	task.StatusNeedHelp,
	task.StatusWorkingOnIt,
	task.StatusReadyToMark,
	task.StatusDiscuss,
	task.StatusRedo,
	task.StatusFixAndResubmit,
	task.StatusFixAndInclude,
	task.StatusComplete,
}

// Service maintains project aggregates derived from task state. It
// implements task.ProjectHooks.
type Service struct {
	repo  Repository
	tasks task.Repository
	defs  task.DefinitionRepository
}

func NewService(repo Repository, tasks task.Repository, defs task.DefinitionRepository) *Service {
	return &Service{
		repo:  repo,
		tasks: tasks,
		defs:  defs,
	}
}

// Start marks the project as started. Repeat calls are cheap no-ops.
func (s *Service) Start(ctx context.Context, projectID string) error {
	p, err := s.repo.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Started {
		return nil
	}
	p.Started = true
	p.UpdatedAt = time.Now()
	return s.repo.Update(ctx, p)
}

// RecomputeStats rebuilds the project's status distribution, progress
// bucket and plagiarism rollup from its tasks. Lifecycle callers invoke it
// once per transition; batch callers once at the end.
func (s *Service) RecomputeStats(ctx context.Context, projectID string) error {
	p, err := s.repo.Get(ctx, projectID)
	if err != nil {
		return err
	}

	tasks, err := s.tasks.List(ctx, projectID, "", "")
	if err != nil {
		return err
	}

	defs := make(map[string]*task.Definition, len(tasks))
	var totalWeight float64
	for _, t := range tasks {
		d, err := s.defs.Get(ctx, t.DefinitionID)
		if err != nil {
			return err
		}
		defs[t.ID] = d
		totalWeight += d.Weighting
	}

	p.TaskStats = distribution(tasks, defs, totalWeight)
	p.Progress = progress(tasks, defs, totalWeight, p.ReferenceDate())
	p.MaxPctSimilar = 0
	for _, t := range tasks {
		if t.MaxPctSimilar > p.MaxPctSimilar {
			p.MaxPctSimilar = t.MaxPctSimilar
		}
	}
	p.UpdatedAt = time.Now()
	return s.repo.Update(ctx, p)
}

// distribution renders weight fractions per status in canonical order.
func distribution(tasks []*task.Task, defs map[string]*task.Definition, totalWeight float64) string {
	byStatus := make(map[task.Status]float64, len(statsOrder))
	for _, t := range tasks {
		byStatus[t.Status] += defs[t.ID].Weighting
	}

	cols := make([]string, 0, len(statsOrder))
	for _, st := range statsOrder {
		frac := 0.0
		if totalWeight > 0 {
			frac = byStatus[st] / totalWeight
		}
		cols = append(cols, fmt.Sprintf("%.2f", frac))
	}
	return strings.Join(cols, "|")
}

// progress buckets completed weight against the weight due by ref.
func progress(tasks []*task.Task, defs map[string]*task.Definition, totalWeight float64, ref time.Time) Progress {
	if totalWeight <= 0 {
		return ProgressOnTrack
	}

	var completed, due float64
	for _, t := range tasks {
		d := defs[t.ID]
		if t.Complete() {
			completed += d.Weighting
		}
		if !d.TargetDate.After(ref) {
			due += d.Weighting
		}
	}

	deficit := (due - completed) / totalWeight
	switch {
	case deficit <= 0:
		return ProgressAhead
	case deficit <= 0.10:
		return ProgressOnTrack
	case deficit <= 0.25:
		return ProgressBehind
	case deficit <= 0.50:
		return ProgressDanger
	default:
		return ProgressDoomed
	}
}
