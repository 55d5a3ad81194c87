package gmail

import (
	"regexp"
	"strings"
)

// ImportantKeywords are matched as lowercase substrings of subject and snippet.
var ImportantKeywords = []string{
	"assignment", "deadline", "due", "exam", "quiz", "test", "submission",
	"project", "midterm", "final", "schedule change", "rescheduled", "venue",
	"room", "cancellation", "postponed", "reschedule", "class cancelled",
	"marks", "grades",
}

// IsImportant reports whether subject or snippet contains any ImportantKeywords entry.
func IsImportant(subject, snippet string) bool {
	text := strings.ToLower(subject + "\n" + snippet)
	for _, kw := range ImportantKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ItemType is the coarse category of an academic email.
type ItemType string

const (
	ItemQuiz       ItemType = "quiz"
	ItemAssignment ItemType = "assignment"
	ItemEvent      ItemType = "event"
	ItemExam       ItemType = "exam"
	ItemOther      ItemType = "other"
)

// Upcoming reports whether the item type is shown by the upcoming digest.
func (t ItemType) Upcoming() bool {
	switch t {
	case ItemAssignment, ItemQuiz, ItemExam, ItemEvent:
		return true
	}
	return false
}

// Rules are checked in order; the first match wins.
var itemRules = []struct {
	itemType ItemType
	pattern  *regexp.Regexp
}{
	{ItemQuiz, regexp.MustCompile(`\b(quiz|test)\b`)},
	{ItemAssignment, regexp.MustCompile(`\b(assignment|hw|homework)\b`)},
	{ItemEvent, regexp.MustCompile(`\b(event|talk|seminar)\b`)},
	{ItemExam, regexp.MustCompile(`\b(exam|midterm|final)\b`)},
}

// ClassifyItem assigns an ItemType from subject and body.
func ClassifyItem(subject, body string) ItemType {
	text := strings.ToLower(subject + "\n" + body)
	for _, rule := range itemRules {
		if rule.pattern.MatchString(text) {
			return rule.itemType
		}
	}
	return ItemOther
}
