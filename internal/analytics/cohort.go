package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	distributionBuckets = 10
	discriminationShare = 0.27
	minDiscrimination   = 4
	maxTrendAttempts    = 10
)

// CohortInput is everything the cohort computation reads.
type CohortInput struct {
	AssessmentID uuid.UUID
	PassScore    int
	// Questions is the bank ordered by position.
	Questions []model.Question
	Sessions  []model.Session
	Answers   []model.Answer
	// Location resolves attemptsByHour; nil means UTC.
	Location *time.Location
	Now      time.Time
}

// Cohort computes the aggregate analytics of an assessment. Only finalized
// sessions (completed or timed_out) with a score contribute to score-based
// figures; attemptsByHour counts every session.
func Cohort(in CohortInput) *model.CohortAnalytics {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	out := &model.CohortAnalytics{
		AssessmentID:      in.AssessmentID,
		TotalSessions:     len(in.Sessions),
		ScoreDistribution: emptyDistribution(),
		Questions:         []model.QuestionStat{},
		ScoreTrend:        []model.TrendPoint{},
		GeneratedAt:       in.Now,
	}

	for i := range in.Sessions {
		out.AttemptsByHour[in.Sessions[i].StartedAt.In(loc).Hour()]++
	}

	finalized := finalizedSessions(in.Sessions)
	out.TotalCompleted = len(finalized)

	scores := make([]float64, 0, len(finalized))
	passed := 0
	for _, s := range finalized {
		score := *s.Score
		scores = append(scores, float64(score))
		out.ScoreDistribution[bucketIndex(score)].Count++
		if score >= in.PassScore {
			passed++
		}
	}
	if len(finalized) > 0 {
		out.PassRate = round2(float64(passed) / float64(len(finalized)))
		out.AverageScore = round2(mean(scores))
	}
	out.MedianScore = Median(scores)

	answersBySession := make(map[uuid.UUID]map[uuid.UUID]model.Answer)
	for _, a := range in.Answers {
		m, ok := answersBySession[a.SessionID]
		if !ok {
			m = make(map[uuid.UUID]model.Answer)
			answersBySession[a.SessionID] = m
		}
		m[a.QuestionID] = a
	}

	top, bottom := discriminationGroups(finalized)
	for i, q := range in.Questions {
		stat := model.QuestionStat{QuestionID: q.ID, Index: i + 1, Stem: TruncateStem(q.Stem)}
		stat.Responses, stat.Correct = tally(finalized, answersBySession, q)
		if stat.Responses > 0 {
			stat.CorrectRate = round2(float64(stat.Correct) / float64(stat.Responses))
		}
		if top != nil {
			stat.DiscriminationIndex = discrimination(top, bottom, answersBySession, q)
		}
		out.Questions = append(out.Questions, stat)
	}

	out.ScoreTrend = scoreTrend(finalized)
	return out
}

func finalizedSessions(sessions []model.Session) []model.Session {
	var out []model.Session
	for _, s := range sessions {
		if s.Status.IsTerminal() && s.Score != nil {
			out = append(out, s)
		}
	}
	return out
}

// ─── Distribution ───────────────────────────────────────────────────

func emptyDistribution() []model.ScoreBucket {
	buckets := make([]model.ScoreBucket, distributionBuckets)
	for i := range buckets {
		lo, hi := i*10, i*10+9
		if i == distributionBuckets-1 {
			hi = 100
		}
		buckets[i] = model.ScoreBucket{Label: fmt.Sprintf("%d-%d", lo, hi), Min: lo, Max: hi}
	}
	return buckets
}

// bucketIndex places 100 in the top bucket instead of an eleventh one.
func bucketIndex(score int) int {
	idx := score / 10
	if idx < 0 {
		return 0
	}
	if idx >= distributionBuckets {
		return distributionBuckets - 1
	}
	return idx
}

// Median returns the standard median, nil for no values.
func Median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	m := sorted[mid]
	if len(sorted)%2 == 0 {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &m
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ─── Item statistics ────────────────────────────────────────────────

func tally(sessions []model.Session, answers map[uuid.UUID]map[uuid.UUID]model.Answer, q model.Question) (responses, correct int) {
	for _, s := range sessions {
		a, ok := answers[s.ID][q.ID]
		if !ok {
			continue
		}
		responses++
		if a.SelectedIndex == q.CorrectIndex {
			correct++
		}
	}
	return responses, correct
}

// discriminationGroups returns the top and bottom 27% of finalized sessions
// by score, or nil when there are too few sessions.
func discriminationGroups(finalized []model.Session) (top, bottom []model.Session) {
	n := len(finalized)
	if n < minDiscrimination {
		return nil, nil
	}
	sorted := append([]model.Session(nil), finalized...)
	sort.SliceStable(sorted, func(i, j int) bool { return *sorted[i].Score > *sorted[j].Score })

	g := int(math.Round(float64(n) * discriminationShare))
	if g < 1 {
		g = 1
	}
	return sorted[:g], sorted[n-g:]
}

func discrimination(top, bottom []model.Session, answers map[uuid.UUID]map[uuid.UUID]model.Answer, q model.Question) *float64 {
	topResponses, topCorrect := tally(top, answers, q)
	bottomResponses, bottomCorrect := tally(bottom, answers, q)
	if topResponses == 0 || bottomResponses == 0 {
		return nil
	}
	d := round2(float64(topCorrect)/float64(topResponses) - float64(bottomCorrect)/float64(bottomResponses))
	return &d
}

// ─── Trend ──────────────────────────────────────────────────────────

// scoreTrend averages each user's n-th finalized attempt, ordered by
// completion time, for n up to maxTrendAttempts.
func scoreTrend(finalized []model.Session) []model.TrendPoint {
	byUser := make(map[string][]model.Session)
	for _, s := range finalized {
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}

	var sums [maxTrendAttempts]float64
	var counts [maxTrendAttempts]int
	for _, attempts := range byUser {
		sort.SliceStable(attempts, func(i, j int) bool {
			return completedAt(attempts[i]).Before(completedAt(attempts[j]))
		})
		for i, s := range attempts {
			if i >= maxTrendAttempts {
				break
			}
			sums[i] += float64(*s.Score)
			counts[i]++
		}
	}

	trend := []model.TrendPoint{}
	for i := 0; i < maxTrendAttempts && counts[i] > 0; i++ {
		trend = append(trend, model.TrendPoint{
			Attempt:      i + 1,
			AverageScore: round2(sums[i] / float64(counts[i])),
			Users:        counts[i],
		})
	}
	return trend
}

func completedAt(s model.Session) time.Time {
	if s.CompletedAt != nil {
		return *s.CompletedAt
	}
	return s.StartedAt
}
