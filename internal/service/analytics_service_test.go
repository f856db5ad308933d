package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

type mapCache struct {
	values map[string]interface{}
	gets   int
}

func (c *mapCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.gets++
	v, ok := c.values[key]
	if !ok {
		return false, nil
	}
	switch d := dst.(type) {
	case *model.CohortAnalytics:
		*d = *v.(*model.CohortAnalytics)
	case *model.ViolationHeatmap:
		*d = *v.(*model.ViolationHeatmap)
	}
	return true, nil
}

func (c *mapCache) Set(_ context.Context, key string, v interface{}) error {
	c.values[key] = v
	return nil
}

func TestCohortAnalytics(t *testing.T) {
	f := newFixture(t, nil, WithAnalyticsLocation(time.UTC))

	// Scores 100, 67, 33 and an in-progress session.
	for i, correct := range []int{3, 2, 1} {
		sess := f.start(uuid.NewString())
		for j, qid := range sess.QuestionOrder {
			selected := f.correctFor(qid)
			if j >= correct {
				selected = (selected + 1) % 4
			}
			f.answer(sess, qid, selected, 10)
		}
		f.clock.Advance(time.Duration(i+1) * time.Minute)
		if _, err := f.orch.Complete(f.ctx, sess.ID, sess.UserID, model.CompletionManual, nil); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
	}
	f.start("still-working")

	got, err := f.orch.Cohort(f.ctx, f.assessment.ID)
	if err != nil {
		t.Fatalf("Cohort() error = %v", err)
	}
	if got.TotalSessions != 4 || got.TotalCompleted != 3 {
		t.Errorf("sessions = %d/%d, want 4/3", got.TotalSessions, got.TotalCompleted)
	}
	if got.MedianScore == nil || *got.MedianScore != 67 {
		t.Errorf("MedianScore = %v, want 67", got.MedianScore)
	}
	if got.ScoreDistribution[9].Count != 1 {
		t.Errorf("top bucket = %d, want 1", got.ScoreDistribution[9].Count)
	}
	if len(got.Questions) != 3 {
		t.Errorf("len(Questions) = %d, want 3", len(got.Questions))
	}
	if got.AttemptsByHour[9] != 4 {
		t.Errorf("AttemptsByHour[9] = %d, want 4", got.AttemptsByHour[9])
	}
}

func TestCohortUnknownAssessment(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.Cohort(f.ctx, uuid.New())
	if got := errCode(t, err); got != response.ErrAssessmentNotFound {
		t.Errorf("code = %s, want %s", got, response.ErrAssessmentNotFound)
	}
}

func TestCohortUsesCache(t *testing.T) {
	f := newFixture(t, nil)
	cache := &mapCache{values: make(map[string]interface{})}
	stores := f.stores
	stores.Cache = cache
	orch := NewOrchestrator(stores, f.orch.log, WithClock(f.clock.Now))

	first, err := orch.Cohort(f.ctx, f.assessment.ID)
	if err != nil {
		t.Fatalf("Cohort() error = %v", err)
	}
	f.start("late-user")
	second, err := orch.Cohort(f.ctx, f.assessment.ID)
	if err != nil {
		t.Fatalf("Cohort() error = %v", err)
	}
	if second.TotalSessions != first.TotalSessions {
		t.Errorf("cached TotalSessions = %d, want %d", second.TotalSessions, first.TotalSessions)
	}
	if cache.gets != 2 {
		t.Errorf("cache gets = %d, want 2", cache.gets)
	}
}

// A violation before the first answer has no attribution target and is
// reported as unattributed.
func TestHeatmapPreAnswerViolationIsUnattributed(t *testing.T) {
	f := newFixture(t, nil, WithViolationDebounce(0))
	sess := f.start("user-1")

	f.clock.Advance(5 * time.Second)
	f.orch.ReportViolation(f.ctx, sess.ID, "user-1", model.ViolationTabHidden, nil)

	f.clock.Advance(25 * time.Second)
	f.answer(sess, sess.QuestionOrder[0], 0, 10)
	f.clock.Advance(5 * time.Second)
	// Inside no window and after the first answer: goes to the next question.
	f.orch.ReportViolation(f.ctx, sess.ID, "user-1", model.ViolationTabHidden, nil)

	got, err := f.orch.Heatmap(f.ctx, f.assessment.ID)
	if err != nil {
		t.Fatalf("Heatmap() error = %v", err)
	}
	if got.TotalViolations != 2 || got.UnattributedViolations != 1 {
		t.Errorf("total=%d unattributed=%d, want 2/1", got.TotalViolations, got.UnattributedViolations)
	}
	if got.FlaggedSessionCount != 1 {
		t.Errorf("FlaggedSessionCount = %d, want 1", got.FlaggedSessionCount)
	}

	// The bank and session order are both identity here.
	counts := map[uuid.UUID]int{}
	for _, e := range got.Entries {
		counts[e.QuestionID] = e.ViolationCount
	}
	if counts[sess.QuestionOrder[1]] != 1 {
		t.Errorf("second question count = %d, want 1", counts[sess.QuestionOrder[1]])
	}
	if counts[sess.QuestionOrder[0]] != 0 {
		t.Errorf("first question count = %d, want 0", counts[sess.QuestionOrder[0]])
	}
	if !got.Approximate {
		t.Error("heatmap must be marked approximate")
	}
}
