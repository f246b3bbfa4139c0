package task

import (
	"strings"
	"time"
)

// Task is one student's unit of gradable work against a task definition.
// Submissions, engagements and comments are owned by the task and stored
// with it, so destroying a task destroys its history too.
type Task struct {
	ID           string `yaml:"id"`
	ProjectID    string `yaml:"project_id"`
	DefinitionID string `yaml:"definition_id"`

	Status          Status     `yaml:"status"`
	AwaitingSignoff bool       `yaml:"awaiting_signoff"`
	CompletionDate  *time.Time `yaml:"completion_date"`

	// Highest plagiarism match percentage reported by an external scan.
	MaxPctSimilar float64 `yaml:"max_pct_similar"`

	// Path of the generated submission PDF, empty until first compiled.
	PortfolioEvidence string `yaml:"portfolio_evidence"`

	Submissions []Submission `yaml:"submissions"`
	Engagements []Engagement `yaml:"engagements"`
	Comments    []Comment    `yaml:"comments"`

	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Submission records a formal hand-in, optionally annotated later with an
// assessment outcome. Records are append-mostly: lifecycle actions update
// the latest record or append a new one, never delete.
type Submission struct {
	ID             string     `yaml:"id"`
	SubmissionTime time.Time  `yaml:"submission_time"`
	AssessmentTime *time.Time `yaml:"assessment_time"`
	Assessor       string     `yaml:"assessor"`
	Outcome        string     `yaml:"outcome"`
}

// Engagement records a non-assessment status event for audit purposes.
type Engagement struct {
	ID             string    `yaml:"id"`
	EngagementTime time.Time `yaml:"engagement_time"`
	Engagement     string    `yaml:"engagement"`
}

type Comment struct {
	ID        string    `yaml:"id"`
	Author    string    `yaml:"author"`
	Text      string    `yaml:"text"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Definition is the assignment template a task is graded against.
type Definition struct {
	ID          string    `yaml:"id"`
	UnitCode    string    `yaml:"unit_code"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Weighting   float64   `yaml:"weighting"`
	Required    bool      `yaml:"required"`
	TargetDate  time.Time `yaml:"target_date"`

	UploadRequirements []UploadRequirement `yaml:"upload_requirements"`
}

// UploadRequirement names one file the student must stage for this task
// and the kind it must classify as.
type UploadRequirement struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

func (t *Task) Complete() bool    { return t.Status == StatusComplete }
func (t *Task) Discuss() bool     { return t.Status == StatusDiscuss }
func (t *Task) ReadyToMark() bool { return t.Status == StatusReadyToMark }
func (t *Task) Assessed() bool    { return t.Status.Assessed() }

func (t *Task) OkToSubmit() bool {
	return t.Status != StatusComplete && t.Status != StatusDiscuss
}

func (t *Task) ReadyOrComplete() bool {
	return t.Status.ReadyOrComplete()
}

// ProcessingPDF reports whether the task awaits its submission PDF.
func (t *Task) ProcessingPDF() bool {
	return t.PortfolioEvidence == "" && t.ReadyToMark()
}

// DaysOverdue is positive once ref passes the definition's target date.
func (t *Task) DaysOverdue(def *Definition, ref time.Time) int {
	return int(ref.Sub(def.TargetDate).Hours() / 24)
}

func (t *Task) DaysUntilDue(def *Definition, ref time.Time) int {
	return int(def.TargetDate.Sub(ref).Hours() / 24)
}

func (t *Task) WeeksOverdue(def *Definition, ref time.Time) int {
	return t.DaysOverdue(def, ref) / 7
}

func (t *Task) WeeksUntilDue(def *Definition, ref time.Time) int {
	return t.DaysUntilDue(def, ref) / 7
}

// Overdue reports whether the task is at least a week past its target date.
// A complete task is never overdue.
func (t *Task) Overdue(def *Definition, ref time.Time) bool {
	if t.Complete() {
		return false
	}
	return ref.After(def.TargetDate) && t.WeeksOverdue(def, ref) >= 1
}

// LongOverdue reports whether the task is at least two weeks past its
// target date.
func (t *Task) LongOverdue(def *Definition, ref time.Time) bool {
	if t.Complete() {
		return false
	}
	return ref.After(def.TargetDate) && t.WeeksOverdue(def, ref) >= 2
}

// CurrentlyDue reports whether the task sits within a week either side of
// its target date and is not complete.
func (t *Task) CurrentlyDue(def *Definition, ref time.Time) bool {
	if t.Complete() {
		return false
	}
	days := t.DaysOverdue(def, ref)
	return days >= -7 && days <= 7
}

// DaysSinceCompletion is meaningful only when a completion date is set.
func (t *Task) DaysSinceCompletion(ref time.Time) int {
	if t.CompletionDate == nil {
		return 0
	}
	return int(ref.Sub(*t.CompletionDate).Hours() / 24)
}

func (t *Task) WeeksSinceCompletion(ref time.Time) int {
	return t.DaysSinceCompletion(ref) / 7
}

// latestSubmission returns the most recent submission record, or nil.
func (t *Task) latestSubmission() *Submission {
	if len(t.Submissions) == 0 {
		return nil
	}
	latest := &t.Submissions[0]
	for i := range t.Submissions {
		if t.Submissions[i].SubmissionTime.After(latest.SubmissionTime) {
			latest = &t.Submissions[i]
		}
	}
	return latest
}

// lastComment returns the newest comment, or nil.
func (t *Task) lastComment() *Comment {
	if len(t.Comments) == 0 {
		return nil
	}
	return &t.Comments[len(t.Comments)-1]
}

// LastCommentBy returns the text of the author's most recent comment, or
// the empty string.
func (t *Task) LastCommentBy(author string) string {
	for i := len(t.Comments) - 1; i >= 0; i-- {
		if t.Comments[i].Author == author {
			return t.Comments[i].Text
		}
	}
	return ""
}

// duplicateComment reports whether text would repeat the latest comment by
// the same author.
func (t *Task) duplicateComment(author, text string) bool {
	lc := t.lastComment()
	return lc != nil && lc.Author == author && lc.Text == strings.TrimSpace(text)
}
