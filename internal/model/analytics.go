package model

import (
	"time"

	"github.com/google/uuid"
)

// ScoreBucket is one of the ten score distribution buckets.
type ScoreBucket struct {
	Label string `json:"label"`
	Min   int    `json:"min"`
	Max   int    `json:"max"`
	Count int    `json:"count"`
}

// QuestionStat holds per-question cohort statistics.
type QuestionStat struct {
	QuestionID  uuid.UUID `json:"question_id"`
	Index       int       `json:"question_index"`
	Stem        string    `json:"stem"`
	Responses   int       `json:"responses"`
	Correct     int       `json:"correct"`
	CorrectRate float64   `json:"correct_rate"`
	// DiscriminationIndex is nil when it cannot be computed.
	DiscriminationIndex *float64 `json:"discrimination_index,omitempty"`
}

// TrendPoint is the mean score at one attempt ordinal across users.
type TrendPoint struct {
	Attempt      int     `json:"attempt"`
	AverageScore float64 `json:"average_score"`
	Users        int     `json:"users"`
}

// CohortAnalytics aggregates all sessions of an assessment.
type CohortAnalytics struct {
	AssessmentID      uuid.UUID      `json:"assessment_id"`
	TotalSessions     int            `json:"total_sessions"`
	TotalCompleted    int            `json:"total_completed"`
	PassRate          float64        `json:"pass_rate"`
	AverageScore      float64        `json:"average_score"`
	MedianScore       *float64       `json:"median_score"`
	ScoreDistribution []ScoreBucket  `json:"score_distribution"`
	Questions         []QuestionStat `json:"questions"`
	AttemptsByHour    [24]int        `json:"attempts_by_hour"`
	ScoreTrend        []TrendPoint   `json:"score_trend"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// HeatmapEntry is the violation count attributed to one question.
type HeatmapEntry struct {
	QuestionID     uuid.UUID `json:"question_id"`
	QuestionIndex  int       `json:"question_index"`
	Stem           string    `json:"stem"`
	ViolationCount int       `json:"violation_count"`
}

// ViolationHeatmap attributes tab_hidden violations to questions.
//
// Attribution uses answer dwell time as a proxy for which question was on
// screen. It is an approximation, not an observation.
type ViolationHeatmap struct {
	AssessmentID           uuid.UUID      `json:"assessment_id"`
	Entries                []HeatmapEntry `json:"entries"`
	TotalViolations        int            `json:"total_violations"`
	UnattributedViolations int            `json:"unattributed_violations"`
	FlaggedSessionCount    int            `json:"flagged_session_count"`
	Approximate            bool           `json:"approximate"`
	Note                   string         `json:"note"`
	GeneratedAt            time.Time      `json:"generated_at"`
}
