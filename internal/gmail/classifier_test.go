package gmail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsImportant(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		snippet string
		want    bool
	}{
		{"midterm rescheduled", "Midterm rescheduled to Friday", "", true},
		{"lunch plans", "Lunch plans", "", false},
		{"keyword only in snippet", "Hello", "Your submission is due tomorrow", true},
		{"uppercase keyword", "ROOM CHANGE", "", true},
		{"multi-word keyword", "Notice", "class cancelled today", true},
		{"substring match", "Attest this form", "", true},
		{"nothing", "Newsletter", "weekly digest", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsImportant(tt.subject, tt.snippet))
		})
	}
}

func TestClassifyItem(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		want    ItemType
	}{
		{"quiz", "Quiz 3 on Monday", "", ItemQuiz},
		{"test is quiz", "Unit test results", "", ItemQuiz},
		{"homework", "HW 2 released", "", ItemAssignment},
		{"assignment in body", "CS101", "The assignment is posted", ItemAssignment},
		{"seminar", "Guest seminar", "", ItemEvent},
		{"midterm", "Midterm room", "", ItemExam},
		{"quiz wins over exam", "Final quiz", "", ItemQuiz},
		{"word boundary", "Contest results", "", ItemOther},
		{"other", "Lunch plans", "", ItemOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyItem(tt.subject, tt.body))
		})
	}
}

func TestItemType_Upcoming(t *testing.T) {
	for _, it := range []ItemType{ItemAssignment, ItemQuiz, ItemExam, ItemEvent} {
		assert.True(t, it.Upcoming(), it)
	}
	assert.False(t, ItemOther.Upcoming())
}
