// Command analytics prints cohort analytics or the violation heatmap of one
// assessment as JSON, computed straight from PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

func main() {
	rawID := flag.String("assessment", "", "Assessment ID (required)")
	heatmap := flag.Bool("heatmap", false, "Print the violation heatmap instead of cohort analytics")
	timeout := flag.Duration("timeout", 2*time.Minute, "Query timeout")
	flag.Parse()

	assessmentID, err := uuid.Parse(*rawID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-assessment must be a valid UUID")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.SetupTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	answers := repository.NewAnswerRepository(pool)
	questions := repository.NewQuestionRepository(pool)
	analytics := service.NewAnalyticsService(service.Stores{
		Sessions:      repository.NewSessionRepository(pool),
		AnswerHistory: answers,
		Assessments:   repository.NewAssessmentRepository(pool),
		Questions:     questions,
		AnswerKeys:    questions,
	}, log, service.WithAnalyticsLocation(cfg.AnalyticsLocation))

	var out interface{}
	if *heatmap {
		out, err = analytics.Heatmap(ctx, assessmentID)
	} else {
		out, err = analytics.Cohort(ctx, assessmentID)
	}
	if err != nil {
		log.Fatal().Err(err).Str("assessment_id", assessmentID.String()).Msg("Analytics failed")
	}

	enc := json.NewEncoder(os.Stdout)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
}
