package project

import (
	"context"
	"time"
)

// Progress buckets a student's pace against the unit schedule.
type Progress string

const (
	ProgressAhead   Progress = "ahead"
	ProgressOnTrack Progress = "on_track"
	ProgressBehind  Progress = "behind"
	ProgressDanger  Progress = "danger"
	ProgressDoomed  Progress = "doomed"
)

// Project is one student's enrolment in a unit. It owns no task records;
// tasks link back by project id.
type Project struct {
	ID              string `yaml:"id"`
	UnitCode        string `yaml:"unit_code"`
	UnitID          string `yaml:"unit_id"`
	StudentUsername string `yaml:"student_username"`
	StudentName     string `yaml:"student_name"`
	TutorName       string `yaml:"tutor_name"`

	// Started flips once the student first engages with any task and
	// never flips back.
	Started bool `yaml:"started"`

	Progress Progress `yaml:"progress"`

	// TaskStats is the dashboard distribution: pipe-separated weight
	// fractions, one per status in canonical order.
	TaskStats string `yaml:"task_stats"`

	// MaxPctSimilar is the highest plagiarism match across the
	// project's tasks.
	MaxPctSimilar float64 `yaml:"max_pct_similar"`

	// SimulatedDate, when set, replaces the wall clock for overdue and
	// progress calculations. Used for teaching-period testing and
	// backdated imports.
	SimulatedDate *time.Time `yaml:"simulated_date"`

	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// ReferenceDate is the "now" used for schedule arithmetic.
func (p *Project) ReferenceDate() time.Time {
	if p.SimulatedDate != nil {
		return *p.SimulatedDate
	}
	return time.Now()
}

type Repository interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context, unitID string) ([]*Project, error)
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, id string) error
}
