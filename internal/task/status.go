package task

// Status is the closed set of task states. The state machine only ever
// moves a task between these values; display metadata lives in the
// statusMeta table and has no bearing on transitions.
type Status string

const (
	StatusNotSubmitted   Status = "not_submitted"
	StatusNeedHelp       Status = "need_help"
	StatusWorkingOnIt    Status = "working_on_it"
	StatusReadyToMark    Status = "ready_to_mark"
	StatusDiscuss        Status = "discuss"
	StatusRedo           Status = "redo"
	StatusFixAndResubmit Status = "fix_and_resubmit"
	StatusFixAndInclude  Status = "fix_and_include"
	StatusComplete       Status = "complete"
)

type StatusMeta struct {
	Name        string
	Description string
}

var statusMeta = map[Status]StatusMeta{
	StatusNotSubmitted:   {"Not Submitted", "The task has not been submitted for feedback"},
	StatusNeedHelp:       {"Need Help", "The student has flagged that they need help with this task"},
	StatusWorkingOnIt:    {"Working On It", "The student is working on this task"},
	StatusReadyToMark:    {"Ready to Mark", "The task has been submitted and is awaiting signoff"},
	StatusDiscuss:        {"Discuss", "Marked, to be discussed with the tutor before completion"},
	StatusRedo:           {"Redo", "The submission must be redone from scratch"},
	StatusFixAndResubmit: {"Fix and Resubmit", "Fix the indicated issues and resubmit for marking"},
	StatusFixAndInclude:  {"Fix and Include", "Fix the indicated issues and include in the portfolio"},
	StatusComplete:       {"Complete", "The task has been signed off"},
}

func (s Status) Valid() bool {
	_, ok := statusMeta[s]
	return ok
}

// Meta returns the display metadata for a status.
func (s Status) Meta() StatusMeta {
	return statusMeta[s]
}

// Terminal reports whether the status ends the task's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusComplete
}

// Assessed reports whether the status is a recorded assessment outcome.
// Discuss is deliberately not an assessed outcome: it carries no submission
// annotation until the discussion resolves it to complete.
func (s Status) Assessed() bool {
	switch s {
	case StatusRedo, StatusFixAndResubmit, StatusFixAndInclude, StatusComplete:
		return true
	default:
		return false
	}
}

// ReadyOrComplete reports whether a task in this status carries a
// completion date.
func (s Status) ReadyOrComplete() bool {
	switch s {
	case StatusReadyToMark, StatusDiscuss, StatusComplete:
		return true
	default:
		return false
	}
}

// Trigger is a request to move a task to a new status. Triggers have short
// aliases used by marking interfaces (e.g. "rtm", "fix", "d").
type Trigger string

const (
	TriggerReadyToMark    Trigger = "ready_to_mark"
	TriggerNotSubmitted   Trigger = "not_submitted"
	TriggerNeedHelp       Trigger = "need_help"
	TriggerWorkingOnIt    Trigger = "working_on_it"
	TriggerRedo           Trigger = "redo"
	TriggerComplete       Trigger = "complete"
	TriggerFixAndResubmit Trigger = "fix_and_resubmit"
	TriggerFixAndInclude  Trigger = "fix_and_include"
	TriggerDiscuss        Trigger = "discuss"
)

var triggerAliases = map[string]Trigger{
	"ready_to_mark":     TriggerReadyToMark,
	"rtm":               TriggerReadyToMark,
	"not_submitted":     TriggerNotSubmitted,
	"not_ready_to_mark": TriggerNotSubmitted,
	"need_help":         TriggerNeedHelp,
	"working_on_it":     TriggerWorkingOnIt,
	"redo":              TriggerRedo,
	"complete":          TriggerComplete,
	"fix_and_resubmit":  TriggerFixAndResubmit,
	"fix":               TriggerFixAndResubmit,
	"fix_and_include":   TriggerFixAndInclude,
	"fixinc":            TriggerFixAndInclude,
	"discuss":           TriggerDiscuss,
	"d":                 TriggerDiscuss,
}

// ParseTrigger resolves a trigger string or alias. ok is false for anything
// outside the transition table.
func ParseTrigger(s string) (Trigger, bool) {
	t, ok := triggerAliases[s]
	return t, ok
}

// TutorOnly reports whether the trigger records an assessment outcome and
// is therefore restricted to tutors.
func (t Trigger) TutorOnly() bool {
	switch t {
	case TriggerRedo, TriggerComplete, TriggerFixAndResubmit, TriggerFixAndInclude, TriggerDiscuss:
		return true
	default:
		return false
	}
}

// Target returns the status the trigger moves a task to.
func (t Trigger) Target() Status {
	switch t {
	case TriggerReadyToMark:
		return StatusReadyToMark
	case TriggerNotSubmitted:
		return StatusNotSubmitted
	case TriggerNeedHelp:
		return StatusNeedHelp
	case TriggerWorkingOnIt:
		return StatusWorkingOnIt
	case TriggerRedo:
		return StatusRedo
	case TriggerComplete:
		return StatusComplete
	case TriggerFixAndResubmit:
		return StatusFixAndResubmit
	case TriggerFixAndInclude:
		return StatusFixAndInclude
	case TriggerDiscuss:
		return StatusDiscuss
	default:
		return StatusNotSubmitted
	}
}

// Role is the acting user's already-resolved role on the task's project.
// Resolution happens upstream; the core never looks identity up itself.
type Role string

const (
	RoleNone     Role = ""
	RoleStudent  Role = "student"
	RoleTutor    Role = "tutor"
	RoleConvenor Role = "convenor"
)

func ParseRole(s string) Role {
	switch s {
	case "student":
		return RoleStudent
	case "tutor":
		return RoleTutor
	case "convenor":
		return RoleConvenor
	default:
		return RoleNone
	}
}

// Enrolled reports whether the role may act on a task at all.
func (r Role) Enrolled() bool {
	return r == RoleStudent || r == RoleTutor || r == RoleConvenor
}

// CanAssess reports whether the role may record assessment outcomes.
func (r Role) CanAssess() bool {
	return r == RoleTutor
}

// CanDeleteComment reports whether the role may delete the given comment.
// Students may only remove their own comments.
func (r Role) CanDeleteComment(own bool) bool {
	if own {
		return r.Enrolled()
	}
	return r == RoleTutor || r == RoleConvenor
}
