package domain

import (
	"fmt"
	"sort"
	"strings"
)

// AnswerKind tags which field of an AnswerValue is populated.
type AnswerKind string

const (
	AnswerChoice   AnswerKind = "choice"
	AnswerChoices  AnswerKind = "choices"
	AnswerOrdering AnswerKind = "ordering"
	AnswerText     AnswerKind = "text"
)

// AnswerValue is a tagged answer: a single option id, a set of option ids, an
// ordered list, or free text.
type AnswerValue struct {
	Kind    AnswerKind `json:"kind"`
	Choice  string     `json:"choice,omitempty"`
	Choices []string   `json:"choices,omitempty"`
	Order   []string   `json:"order,omitempty"`
	Text    string     `json:"text,omitempty"`
}

func Choice(optionID string) AnswerValue {
	return AnswerValue{Kind: AnswerChoice, Choice: optionID}
}

func Choices(optionIDs ...string) AnswerValue {
	return AnswerValue{Kind: AnswerChoices, Choices: append([]string(nil), optionIDs...)}
}

func Ordering(itemIDs ...string) AnswerValue {
	return AnswerValue{Kind: AnswerOrdering, Order: append([]string(nil), itemIDs...)}
}

func FreeText(text string) AnswerValue {
	return AnswerValue{Kind: AnswerText, Text: text}
}

// IsEmpty reports whether the value counts as "not answered".
func (a AnswerValue) IsEmpty() bool {
	switch a.Kind {
	case AnswerChoice:
		return a.Choice == ""
	case AnswerChoices:
		return len(a.Choices) == 0
	case AnswerOrdering:
		return len(a.Order) == 0
	case AnswerText:
		return strings.TrimSpace(a.Text) == ""
	default:
		return true
	}
}

// Validate checks that the tag and payload agree.
func (a AnswerValue) Validate() error {
	switch a.Kind {
	case AnswerChoice, AnswerChoices, AnswerOrdering, AnswerText:
	default:
		return fmt.Errorf("%w: unknown answer kind %q", ErrInvalidAnswer, a.Kind)
	}
	if a.Kind != AnswerChoice && a.Choice != "" ||
		a.Kind != AnswerChoices && len(a.Choices) > 0 ||
		a.Kind != AnswerOrdering && len(a.Order) > 0 ||
		a.Kind != AnswerText && a.Text != "" {
		return fmt.Errorf("%w: payload does not match kind %q", ErrInvalidAnswer, a.Kind)
	}
	return nil
}

// Matches applies the question-type equality rule: exact match for single
// choice and ordering, set equality for multi-select.
func (a AnswerValue) Matches(key AnswerValue) bool {
	if a.Kind != key.Kind || a.IsEmpty() {
		return false
	}
	switch a.Kind {
	case AnswerChoice:
		return a.Choice == key.Choice
	case AnswerChoices:
		return equalSets(a.Choices, key.Choices)
	case AnswerOrdering:
		if len(a.Order) != len(key.Order) {
			return false
		}
		for i := range a.Order {
			if a.Order[i] != key.Order[i] {
				return false
			}
		}
		return true
	case AnswerText:
		return strings.EqualFold(strings.TrimSpace(a.Text), strings.TrimSpace(key.Text))
	}
	return false
}

// Clone returns a deep copy so callers cannot alias slices held by a snapshot.
func (a AnswerValue) Clone() AnswerValue {
	out := a
	out.Choices = append([]string(nil), a.Choices...)
	out.Order = append([]string(nil), a.Order...)
	if len(out.Choices) == 0 {
		out.Choices = nil
	}
	if len(out.Order) == 0 {
		out.Order = nil
	}
	return out
}

// String renders the answer for review screens and logs.
func (a AnswerValue) String() string {
	switch a.Kind {
	case AnswerChoice:
		return a.Choice
	case AnswerChoices:
		return strings.Join(a.Choices, ", ")
	case AnswerOrdering:
		return strings.Join(a.Order, " > ")
	case AnswerText:
		return a.Text
	}
	return ""
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// CloneAnswers copies an answer map deeply.
func CloneAnswers(in map[string]AnswerValue) map[string]AnswerValue {
	if in == nil {
		return nil
	}
	out := make(map[string]AnswerValue, len(in))
	for id, v := range in {
		out[id] = v.Clone()
	}
	return out
}
