package task

import (
	"testing"
	"time"
)

func TestParseTrigger(t *testing.T) {
	cases := map[string]Trigger{
		"ready_to_mark":     TriggerReadyToMark,
		"rtm":               TriggerReadyToMark,
		"not_ready_to_mark": TriggerNotSubmitted,
		"fix":               TriggerFixAndResubmit,
		"fixinc":            TriggerFixAndInclude,
		"d":                 TriggerDiscuss,
		"complete":          TriggerComplete,
	}
	for in, want := range cases {
		got, ok := ParseTrigger(in)
		if !ok {
			t.Errorf("ParseTrigger(%q) not recognised", in)
			continue
		}
		if got != want {
			t.Errorf("ParseTrigger(%q) = %q, want %q", in, got, want)
		}
	}

	if _, ok := ParseTrigger("promote"); ok {
		t.Error("ParseTrigger accepted an unknown trigger")
	}
	if _, ok := ParseTrigger(""); ok {
		t.Error("ParseTrigger accepted the empty string")
	}
}

func TestStatusAssessed(t *testing.T) {
	assessed := []Status{StatusRedo, StatusFixAndResubmit, StatusFixAndInclude, StatusComplete}
	for _, s := range assessed {
		if !s.Assessed() {
			t.Errorf("%s should be an assessed outcome", s)
		}
	}
	// Discuss carries no submission annotation until resolved.
	if StatusDiscuss.Assessed() {
		t.Error("discuss must not be an assessed outcome")
	}
	if StatusReadyToMark.Assessed() {
		t.Error("ready_to_mark must not be an assessed outcome")
	}
}

func TestStatusReadyOrComplete(t *testing.T) {
	for _, s := range []Status{StatusReadyToMark, StatusDiscuss, StatusComplete} {
		if !s.ReadyOrComplete() {
			t.Errorf("%s should carry a completion date", s)
		}
	}
	for _, s := range []Status{StatusNotSubmitted, StatusNeedHelp, StatusWorkingOnIt, StatusRedo, StatusFixAndResubmit, StatusFixAndInclude} {
		if s.ReadyOrComplete() {
			t.Errorf("%s should not carry a completion date", s)
		}
	}
}

func TestOkToSubmit(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusNotSubmitted:   true,
		StatusFixAndResubmit: true,
		StatusRedo:           true,
		StatusDiscuss:        false,
		StatusComplete:       false,
	} {
		task := &Task{Status: s}
		if got := task.OkToSubmit(); got != want {
			t.Errorf("OkToSubmit with status %s = %v, want %v", s, got, want)
		}
	}
}

func TestOverdue(t *testing.T) {
	target := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	def := &Definition{TargetDate: target}
	task := &Task{Status: StatusWorkingOnIt}

	if task.Overdue(def, target.AddDate(0, 0, 3)) {
		t.Error("task three days past target should not be overdue yet")
	}
	if !task.Overdue(def, target.AddDate(0, 0, 8)) {
		t.Error("task eight days past target should be overdue")
	}
	if task.LongOverdue(def, target.AddDate(0, 0, 8)) {
		t.Error("task eight days past target should not be long overdue")
	}
	if !task.LongOverdue(def, target.AddDate(0, 0, 15)) {
		t.Error("task fifteen days past target should be long overdue")
	}

	done := &Task{Status: StatusComplete}
	if done.Overdue(def, target.AddDate(0, 0, 30)) {
		t.Error("complete task must never be overdue")
	}
}

func TestCurrentlyDue(t *testing.T) {
	target := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	def := &Definition{TargetDate: target}
	task := &Task{Status: StatusWorkingOnIt}

	if !task.CurrentlyDue(def, target.AddDate(0, 0, -5)) {
		t.Error("task five days before target should be currently due")
	}
	if !task.CurrentlyDue(def, target.AddDate(0, 0, 5)) {
		t.Error("task five days after target should be currently due")
	}
	if task.CurrentlyDue(def, target.AddDate(0, 0, 10)) {
		t.Error("task ten days after target should not be currently due")
	}
}

func TestDuplicateComment(t *testing.T) {
	task := &Task{Comments: []Comment{
		{ID: "1", Author: "astudent", Text: "is this right?"},
		{ID: "2", Author: "atutor", Text: "almost, check the loop"},
	}}

	if !task.duplicateComment("atutor", "almost, check the loop") {
		t.Error("repeating the last comment by the same author should be a duplicate")
	}
	if !task.duplicateComment("atutor", "  almost, check the loop  ") {
		t.Error("whitespace should not defeat duplicate detection")
	}
	if task.duplicateComment("astudent", "almost, check the loop") {
		t.Error("same text by a different author is not a duplicate")
	}
	if task.duplicateComment("astudent", "is this right?") {
		t.Error("only the latest comment guards against duplicates")
	}
}

func TestProcessingPDF(t *testing.T) {
	task := &Task{Status: StatusReadyToMark}
	if !task.ProcessingPDF() {
		t.Error("ready_to_mark with no evidence should report processing")
	}
	task.PortfolioEvidence = "work/evidence.pdf"
	if task.ProcessingPDF() {
		t.Error("task with evidence should not report processing")
	}
}
