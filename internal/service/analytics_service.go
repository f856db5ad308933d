package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/analytics"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"golang.org/x/sync/errgroup"
)

// AnalyticsService computes cohort analytics and violation heatmaps from
// persisted sessions, caching results when a Cache is configured.
type AnalyticsService struct {
	stores Stores
	set    settings
	log    zerolog.Logger
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(stores Stores, log zerolog.Logger, opts ...Option) *AnalyticsService {
	return &AnalyticsService{
		stores: stores,
		set:    applyOptions(opts),
		log:    log.With().Str("component", "analytics_service").Logger(),
	}
}

type analyticsInputs struct {
	assessment *model.Assessment
	questions  []model.Question
	sessions   []model.Session
	answers    []model.Answer
}

// load fetches the four inputs concurrently.
func (s *AnalyticsService) load(ctx context.Context, assessmentID uuid.UUID) (*analyticsInputs, error) {
	in := &analyticsInputs{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.stores.Assessments.GetAssessment(gctx, assessmentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return validationError(response.ErrAssessmentNotFound)
			}
			return fmt.Errorf("get assessment: %w", err)
		}
		in.assessment = a
		return nil
	})
	g.Go(func() error {
		qs, err := s.stores.Questions.ListQuestions(gctx, assessmentID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		in.questions = qs
		return nil
	})
	g.Go(func() error {
		sessions, err := s.stores.Sessions.ListByAssessment(gctx, assessmentID)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		in.sessions = sessions
		return nil
	})
	g.Go(func() error {
		answers, err := s.stores.AnswerHistory.ListAnswersByAssessment(gctx, assessmentID)
		if err != nil {
			return fmt.Errorf("list answers: %w", err)
		}
		in.answers = answers
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// Cohort returns the cohort analytics of an assessment.
func (s *AnalyticsService) Cohort(ctx context.Context, assessmentID uuid.UUID) (*model.CohortAnalytics, error) {
	key := config.CacheKey.AssessmentAnalyticsKey(assessmentID.String())
	out := &model.CohortAnalytics{}
	if s.cached(ctx, key, out) {
		return out, nil
	}

	in, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	out = analytics.Cohort(analytics.CohortInput{
		AssessmentID: assessmentID,
		PassScore:    in.assessment.PassScore,
		Questions:    in.questions,
		Sessions:     in.sessions,
		Answers:      in.answers,
		Location:     s.set.analyticsLocation,
		Now:          s.set.now(),
	})
	s.store(ctx, key, out)
	return out, nil
}

// Heatmap returns the violation heatmap of an assessment.
func (s *AnalyticsService) Heatmap(ctx context.Context, assessmentID uuid.UUID) (*model.ViolationHeatmap, error) {
	key := config.CacheKey.AssessmentHeatmapKey(assessmentID.String())
	out := &model.ViolationHeatmap{}
	if s.cached(ctx, key, out) {
		return out, nil
	}

	in, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	out = analytics.Heatmap(analytics.HeatmapInput{
		AssessmentID: assessmentID,
		Questions:    in.questions,
		Sessions:     in.sessions,
		Answers:      in.answers,
		Now:          s.set.now(),
	})
	s.store(ctx, key, out)
	return out, nil
}

func (s *AnalyticsService) cached(ctx context.Context, key string, dst interface{}) bool {
	if s.stores.Cache == nil {
		return false
	}
	ok, err := s.stores.Cache.Get(ctx, key, dst)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Analytics cache read failed")
		return false
	}
	return ok
}

func (s *AnalyticsService) store(ctx context.Context, key string, v interface{}) {
	if s.stores.Cache == nil {
		return
	}
	if err := s.stores.Cache.Set(ctx, key, v); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Analytics cache write failed")
	}
}
