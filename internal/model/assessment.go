package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus enumerates the publication states of an assessment.
type AssessmentStatus string

const (
	AssessmentStatusDraft     AssessmentStatus = "DRAFT"
	AssessmentStatusPublished AssessmentStatus = "PUBLISHED"
	AssessmentStatusArchived  AssessmentStatus = "ARCHIVED"
)

// Assessment is the timing and attempt policy of an assessment. It is owned
// by the content collaborator; this service only reads it.
type Assessment struct {
	ID               uuid.UUID        `json:"id"`
	Title            string           `json:"title"`
	Status           AssessmentStatus `json:"status"`
	TimeLimitMinutes int              `json:"time_limit_minutes"`
	PassScore        int              `json:"pass_score"`
	QuestionCount    int              `json:"question_count"`
	ShuffleQuestions bool             `json:"shuffle_questions"`
	// MaxAttempts of 0 means unlimited.
	MaxAttempts     int       `json:"max_attempts"`
	CooldownMinutes int       `json:"cooldown_minutes"`
	AllowReview     bool      `json:"allow_review"`
	AccessCode      string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// RequiresAccessCode reports whether candidates must present a code to start.
func (a *Assessment) RequiresAccessCode() bool {
	return a.AccessCode != ""
}

// TimeLimitSeconds is the initial countdown of a new session.
func (a *Assessment) TimeLimitSeconds() int {
	return a.TimeLimitMinutes * 60
}

// AssessmentSummary is the candidate-facing view of an assessment.
type AssessmentSummary struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	TimeLimitMinutes int       `json:"time_limit_minutes"`
	PassScore        int       `json:"pass_score"`
	QuestionCount    int       `json:"question_count"`
	AllowReview      bool      `json:"allow_review"`
}

// Summary strips policy fields that candidates should not see.
func (a *Assessment) Summary() AssessmentSummary {
	return AssessmentSummary{
		ID:               a.ID,
		Title:            a.Title,
		TimeLimitMinutes: a.TimeLimitMinutes,
		PassScore:        a.PassScore,
		QuestionCount:    a.QuestionCount,
		AllowReview:      a.AllowReview,
	}
}
