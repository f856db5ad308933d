package analytics

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MaxStemRunes bounds the stem shown in heatmaps and item statistics.
const MaxStemRunes = 80

// HeatmapNote accompanies every heatmap.
const HeatmapNote = "Attribution uses answer dwell time (answered_at minus time_spent_seconds, up to answered_at) " +
	"as a proxy for the question on screen. Counts are approximate, not observed."

// HeatmapInput is everything the heatmap computation reads.
type HeatmapInput struct {
	AssessmentID uuid.UUID
	// Questions is the bank ordered by position.
	Questions []model.Question
	Sessions  []model.Session
	Answers   []model.Answer
	Now       time.Time
}

// Attribute picks the question a tab_hidden violation at ts belongs to.
//
// The first answer window [answered_at - time_spent, answered_at] containing
// ts wins. Otherwise the question after the most recent answer at or before
// ts is used, clamped to the last question. ok is false when no answer
// precedes ts.
func Attribute(order []uuid.UUID, answers []model.Answer, ts time.Time) (uuid.UUID, bool) {
	sorted := append([]model.Answer(nil), answers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AnsweredAt.Before(sorted[j].AnsweredAt) })

	for _, a := range sorted {
		start := a.AnsweredAt.Add(-time.Duration(a.TimeSpentSeconds) * time.Second)
		if !ts.Before(start) && !ts.After(a.AnsweredAt) {
			return a.QuestionID, true
		}
	}

	position := make(map[uuid.UUID]int, len(order))
	for i, qid := range order {
		position[qid] = i
	}
	last := -1
	for _, a := range sorted {
		if a.AnsweredAt.After(ts) {
			break
		}
		if idx, ok := position[a.QuestionID]; ok {
			last = idx
		}
	}
	if last < 0 || len(order) == 0 {
		return uuid.Nil, false
	}
	next := last + 1
	if next >= len(order) {
		next = len(order) - 1
	}
	return order[next], true
}

// Heatmap aggregates attributed tab_hidden violations of flagged sessions
// per bank question.
func Heatmap(in HeatmapInput) *model.ViolationHeatmap {
	out := &model.ViolationHeatmap{
		AssessmentID: in.AssessmentID,
		Entries:      make([]model.HeatmapEntry, len(in.Questions)),
		Approximate:  true,
		Note:         HeatmapNote,
		GeneratedAt:  in.Now,
	}
	index := make(map[uuid.UUID]int, len(in.Questions))
	for i, q := range in.Questions {
		index[q.ID] = i
		out.Entries[i] = model.HeatmapEntry{QuestionID: q.ID, QuestionIndex: i + 1, Stem: TruncateStem(q.Stem)}
	}

	answersBySession := make(map[uuid.UUID][]model.Answer)
	for _, a := range in.Answers {
		answersBySession[a.SessionID] = append(answersBySession[a.SessionID], a)
	}

	for _, s := range in.Sessions {
		if !s.IsFlagged() {
			continue
		}
		out.FlaggedSessionCount++
		for _, v := range s.TabSwitchLog {
			if v.Type != model.ViolationTabHidden {
				continue
			}
			out.TotalViolations++
			qid, ok := Attribute(s.QuestionOrder, answersBySession[s.ID], v.Timestamp)
			if !ok {
				out.UnattributedViolations++
				continue
			}
			i, ok := index[qid]
			if !ok {
				out.UnattributedViolations++
				continue
			}
			out.Entries[i].ViolationCount++
		}
	}
	return out
}

// TruncateStem shortens s to at most MaxStemRunes runes, marking the cut
// with an ellipsis.
func TruncateStem(s string) string {
	if utf8.RuneCountInString(s) <= MaxStemRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxStemRunes-1]) + "…"
}
