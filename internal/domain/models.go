package domain

import "sort"

// QuestionType selects the equality rule used when scoring a question.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse    QuestionType = "true_false"
	QuestionMultiSelect  QuestionType = "multi_select"
	QuestionOrdering     QuestionType = "ordering"
	QuestionShortAnswer  QuestionType = "short_answer"
	QuestionEssay        QuestionType = "essay"
)

// FreeText reports whether earned points for the type are supplied by a grader
// instead of being computed.
func (t QuestionType) FreeText() bool {
	return t == QuestionShortAnswer || t == QuestionEssay
}

// Option represents a possible answer for a choice question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models a single assessment item together with its answer key.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Options []Option     `json:"options,omitempty"`
	// Key is the canonical answer. For choice questions it may be left empty and
	// is then derived from the Correct flags on Options.
	Key    AnswerValue `json:"key"`
	Points float64     `json:"points"` // defaults to 1 if zero
}

// PointValue returns the configured points, defaulting to 1.
func (q Question) PointValue() float64 {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// AnswerKey returns the canonical answer for the question.
func (q Question) AnswerKey() AnswerValue {
	if !q.Key.IsEmpty() {
		return q.Key
	}
	switch q.Type {
	case QuestionMultiSelect:
		var ids []string
		for _, opt := range q.Options {
			if opt.Correct {
				ids = append(ids, opt.ID)
			}
		}
		return Choices(ids...)
	case QuestionOrdering:
		ids := make([]string, 0, len(q.Options))
		for _, opt := range q.Options {
			ids = append(ids, opt.ID)
		}
		return Ordering(ids...)
	case QuestionSingleChoice, QuestionTrueFalse, "":
		for _, opt := range q.Options {
			if opt.Correct {
				return Choice(opt.ID)
			}
		}
	}
	return AnswerValue{}
}

// Public strips the answer key so the question can be sent to learners.
func (q Question) Public() Question {
	out := q
	out.Key = AnswerValue{}
	out.Options = make([]Option, len(q.Options))
	for i, opt := range q.Options {
		out.Options[i] = Option{ID: opt.ID, Text: opt.Text}
	}
	if q.Type == QuestionOrdering {
		// authored order may be the key
		sort.Slice(out.Options, func(i, j int) bool { return out.Options[i].ID < out.Options[j].ID })
	}
	return out
}

// Quiz is a collection of questions plus the attempt rules.
type Quiz struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title,omitempty"`
	Questions          []Question `json:"questions"`
	TimeLimitSeconds   int        `json:"timeLimitSeconds,omitempty"` // 0 means untimed
	PassingGrade       float64    `json:"passingGrade"`
	AttemptsAllowed    int        `json:"attemptsAllowed,omitempty"` // 0 means unlimited
	RetakeAllowed      bool       `json:"retakeAllowed,omitempty"`   // start again once AttemptsAllowed is used up
	ShowCorrectAnswers bool       `json:"showCorrectAnswers,omitempty"`
}

// AllowsAttempt reports whether a learner who already started taken attempts
// may start another one.
func (q Quiz) AllowsAttempt(taken int) bool {
	return q.AttemptsAllowed <= 0 || taken < q.AttemptsAllowed || q.RetakeAllowed
}

// QuestionIDs lists question ids in presentation order.
func (q Quiz) QuestionIDs() []string {
	ids := make([]string, len(q.Questions))
	for i, question := range q.Questions {
		ids[i] = question.ID
	}
	return ids
}
