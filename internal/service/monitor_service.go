package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// MonitorService builds the roster a proctor sees when attaching to the
// live monitor; later changes arrive as published session events.
type MonitorService struct {
	stores Stores
}

func NewMonitorService(stores Stores) *MonitorService {
	return &MonitorService{stores: stores}
}

// Snapshot returns every session of the assessment with state counts.
func (s *MonitorService) Snapshot(ctx context.Context, assessmentID uuid.UUID) (*model.MonitorSnapshot, error) {
	a, err := s.stores.Assessments.GetAssessment(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, validationError(response.ErrAssessmentNotFound)
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	sessions, err := s.stores.Sessions.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := &model.MonitorSnapshot{
		Assessment: a.Summary(),
		Sessions:   make([]model.MonitorRow, 0, len(sessions)),
	}
	for i := range sessions {
		sess := &sessions[i]
		out.Stats.TotalSessions++
		switch sess.Status {
		case model.SessionStatusInProgress:
			out.Stats.TotalInProgress++
		case model.SessionStatusCompleted:
			out.Stats.TotalCompleted++
		case model.SessionStatusTimedOut:
			out.Stats.TotalTimedOut++
		}
		if sess.IsFlagged() {
			out.Stats.TotalFlagged++
		}
		out.Sessions = append(out.Sessions, model.MonitorRow{
			SessionID:            sess.ID,
			UserID:               sess.UserID,
			Status:               sess.Status,
			TimeRemainingSeconds: sess.TimeRemainingSeconds,
			TabSwitchCount:       sess.TabSwitchCount,
			StartedAt:            sess.StartedAt,
			Score:                sess.Score,
		})
	}
	return out, nil
}
