// Package demo provides a sample assessment for local development.
package demo

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AssessmentID is stable so tokens and URLs survive a restart.
var AssessmentID = uuid.MustParse("5b0c1f5e-8a57-4c8e-9a3e-1d2f3a4b5c6d")

var bank = []struct {
	stem    string
	options []string
	correct int
}{
	{"What is the SI unit of force?", []string{"Joule", "Newton", "Watt", "Pascal"}, 1},
	{"Which gas makes up most of Earth's atmosphere?", []string{"Oxygen", "Carbon dioxide", "Nitrogen", "Argon"}, 2},
	{"What is 7 × 8?", []string{"54", "56", "58", "64"}, 1},
	{"Which planet is closest to the Sun?", []string{"Mercury", "Venus", "Mars", "Earth"}, 0},
	{"What is the chemical symbol for sodium?", []string{"So", "Sd", "S", "Na"}, 3},
	{"How many sides does a hexagon have?", []string{"5", "6", "7", "8"}, 1},
}

// Assessment returns the sample assessment and its question bank.
func Assessment() (*model.Assessment, []model.Question) {
	a := &model.Assessment{
		ID:               AssessmentID,
		Title:            "General Science Warm-up",
		Status:           model.AssessmentStatusPublished,
		TimeLimitMinutes: 15,
		PassScore:        60,
		QuestionCount:    5,
		ShuffleQuestions: true,
		MaxAttempts:      3,
		CooldownMinutes:  1,
		AllowReview:      true,
		CreatedAt:        time.Now(),
	}
	questions := make([]model.Question, len(bank))
	for i, q := range bank {
		questions[i] = model.Question{
			ID:           uuid.NewSHA1(AssessmentID, []byte(q.stem)),
			AssessmentID: AssessmentID,
			Position:     i + 1,
			Stem:         q.stem,
			Options:      q.options,
			CorrectIndex: q.correct,
		}
	}
	return a, questions
}
