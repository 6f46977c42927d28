package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTriageDecision(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   TriageDecision
	}{
		{
			name:   "simple task captures plan",
			output: "1. Edit handler.go\n2. Add test\nSIMPLE_TASK",
			want:   TriageDecision{Plan: "1. Edit handler.go\n2. Add test"},
		},
		{
			name:   "needs architect captures analysis",
			output: "This touches the storage layer and auth.\n\nNEEDS_ARCHITECT",
			want:   TriageDecision{NeedsArchitect: true, Analysis: "This touches the storage layer and auth."},
		},
		{
			name:   "markdown emphasis around marker",
			output: "Plan here\n**SIMPLE_TASK**",
			want:   TriageDecision{Plan: "Plan here"},
		},
		{
			name:   "inline marker drops its label",
			output: "Small fix.\nDecision: SIMPLE_TASK",
			want:   TriageDecision{Plan: "Small fix."},
		},
		{
			name:   "inline marker keeps the sentence before its label",
			output: "Rename the flag. Final decision: SIMPLE_TASK",
			want:   TriageDecision{Plan: "Rename the flag."},
		},
		{
			name:   "long text before a colon is not a label",
			output: "Edit config.go and wire the new option into: SIMPLE_TASK",
			want:   TriageDecision{Plan: "Edit config.go and wire the new option into:"},
		},
		{
			name:   "no marker defaults to architect",
			output: "I am not sure what to do here.",
			want:   TriageDecision{NeedsArchitect: true, Analysis: "I am not sure what to do here.", Defaulted: true},
		},
		{
			name:   "empty output defaults to architect",
			output: "",
			want:   TriageDecision{NeedsArchitect: true, Defaulted: true},
		},
		{
			name:   "last marker wins",
			output: "Considered NEEDS_ARCHITECT\nbut it is small\nSIMPLE_TASK",
			want:   TriageDecision{Plan: "Considered NEEDS_ARCHITECT\nbut it is small"},
		},
		{
			name:   "marker outside window is ignored",
			output: "SIMPLE_TASK\na\nb\nc\nd\ne",
			want:   TriageDecision{NeedsArchitect: true, Analysis: "SIMPLE_TASK\na\nb\nc\nd\ne", Defaulted: true},
		},
		{
			name:   "blank lines do not count toward window",
			output: "plan\nSIMPLE_TASK\n\n\n\n\n\n\n",
			want:   TriageDecision{Plan: "plan"},
		},
		{
			name:   "marker as part of a longer word does not count",
			output: "NOT_SIMPLE_TASK_AT_ALL",
			want:   TriageDecision{NeedsArchitect: true, Analysis: "NOT_SIMPLE_TASK_AT_ALL", Defaulted: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTriageDecision(tt.output))
		})
	}
}

func TestParseQAVerdict(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   QAVerdict
	}{
		{
			name:   "approved",
			output: "All tests pass.\nQA_APPROVED",
			want:   QAVerdict{Approved: true},
		},
		{
			name:   "rejected with reason",
			output: "Checked the form.\nQA_REJECTED: submit button does nothing",
			want:   QAVerdict{Reason: "submit button does nothing"},
		},
		{
			name:   "bare rejection uses full text",
			output: "The login page crashes on submit.\nQA_REJECTED",
			want:   QAVerdict{Reason: "The login page crashes on submit.\nQA_REJECTED"},
		},
		{
			name:   "backticks around marker",
			output: "`QA_REJECTED: missing tests`",
			want:   QAVerdict{Reason: "missing tests"},
		},
		{
			name:   "no verdict defaults to approved",
			output: "Looks fine to me.",
			want:   QAVerdict{Approved: true, Defaulted: true},
		},
		{
			name:   "blank lines and a summary after the verdict",
			output: "QA_REJECTED: missing tests\n\n\n\n\n\nSummary: reviewed the diff",
			want:   QAVerdict{Reason: "missing tests"},
		},
		{
			name:   "verdict beyond five non-empty lines is ignored",
			output: "QA_REJECTED: missing tests\n1\n2\n3\n4\n5",
			want:   QAVerdict{Approved: true, Defaulted: true},
		},
		{
			name:   "rejection after earlier approval line",
			output: "QA_APPROVED\nwait, found a bug\nQA_REJECTED: null deref",
			want:   QAVerdict{Reason: "null deref"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseQAVerdict(tt.output))
		})
	}
}

func TestParseDevNeedsHelp(t *testing.T) {
	assert.True(t, ParseDevNeedsHelp("I tried everything.\nDEV_NEEDS_HELP"))
	assert.True(t, ParseDevNeedsHelp("DEV_NEEDS_HELP\n\n"))
	assert.False(t, ParseDevNeedsHelp("Fixed the bug."))
	assert.False(t, ParseDevNeedsHelp("DEV_NEEDS_HELP\n1\n2\n3\n4\n5"))
}

func TestParsersAreIdempotent(t *testing.T) {
	out := "plan text\nSIMPLE_TASK"
	assert.Equal(t, ParseTriageDecision(out), ParseTriageDecision(out))
	qa := "QA_REJECTED: broken"
	assert.Equal(t, ParseQAVerdict(qa), ParseQAVerdict(qa))
}
