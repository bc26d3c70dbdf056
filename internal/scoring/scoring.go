// Package scoring computes attempt results. Score is pure: the same inputs
// always yield the same ScoreResult, so review screens recompute instead of
// re-fetching.
package scoring

import "assessment-sync/internal/domain"

// Score aggregates points for the given answers. Free-text questions always
// count towards the total; their earned points are taken from manual (grader
// supplied) and default to zero.
func Score(questions []domain.Question, answers map[string]domain.AnswerValue, passingGrade float64, manual map[string]float64) domain.ScoreResult {
	result := domain.ScoreResult{
		PassingGrade: passingGrade,
		Breakdown:    make([]domain.QuestionScore, 0, len(questions)),
	}

	for _, q := range questions {
		points := q.PointValue()
		answer, answered := answers[q.ID]
		answered = answered && !answer.IsEmpty()

		row := domain.QuestionScore{
			QuestionID: q.ID,
			Type:       q.Type,
			Points:     points,
			Answered:   answered,
		}

		if q.Type.FreeText() {
			row.Manual = true
			if earned, ok := manual[q.ID]; ok {
				row.Earned = clamp(earned, 0, points)
				row.Correct = row.Earned >= points
			}
		} else if answered && answer.Matches(q.AnswerKey()) {
			row.Earned = points
			row.Correct = true
		}

		result.TotalPoints += points
		result.EarnedPoints += row.Earned
		result.Breakdown = append(result.Breakdown, row)
	}

	result.Percent = Percent(result.EarnedPoints, result.TotalPoints)
	result.Passed = result.Percent >= passingGrade
	return result
}

// Percent is earned/total*100 rounded to one decimal, or 0 without points.
func Percent(earned, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return domain.Round1(earned / total * 100)
}

// Recompute re-runs scoring for a result received from the server, keeping the
// grader-supplied free-text points, the retake flag and any revealed answers.
func Recompute(quiz domain.Quiz, answers map[string]domain.AnswerValue, server domain.ScoreResult) domain.ScoreResult {
	result := Score(quiz.Questions, answers, quiz.PassingGrade, server.ManualPoints())
	result.CanRetake = server.CanRetake
	revealed := make(map[string]*domain.AnswerValue, len(server.Breakdown))
	for _, row := range server.Breakdown {
		if row.CorrectAnswer != nil {
			revealed[row.QuestionID] = row.CorrectAnswer
		}
	}
	for i := range result.Breakdown {
		result.Breakdown[i].CorrectAnswer = revealed[result.Breakdown[i].QuestionID]
	}
	return result
}

// RevealAnswers fills each gradable row of the breakdown with the question's
// answer key.
func RevealAnswers(questions []domain.Question, result *domain.ScoreResult) {
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	for i, row := range result.Breakdown {
		q, ok := byID[row.QuestionID]
		if !ok || q.Type.FreeText() {
			continue
		}
		key := q.AnswerKey().Clone()
		if key.IsEmpty() {
			continue
		}
		result.Breakdown[i].CorrectAnswer = &key
	}
}

// Unanswered lists the ids of questions with no usable answer, in order.
func Unanswered(questionIDs []string, answers map[string]domain.AnswerValue) []string {
	var out []string
	for _, id := range questionIDs {
		if v, ok := answers[id]; !ok || v.IsEmpty() {
			out = append(out, id)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
