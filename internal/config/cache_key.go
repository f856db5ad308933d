package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionAnswersKey returns the hash key holding a session's fast-lane answers
// (field = question id, value = JSON answer).
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// SessionSealedKey marks a session whose answer hash is closed to writes.
func (r *CacheKeyStruct) SessionSealedKey(sessionID string) string {
	return fmt.Sprintf("session:%s:sealed", sessionID)
}

// AssessmentAnswerKey returns the hash key holding an assessment's answer key
// (field = question id, value = correct index).
func (r *CacheKeyStruct) AssessmentAnswerKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:key", assessmentID)
}

// AssessmentAnalyticsKey returns the cache key for computed cohort analytics.
func (r *CacheKeyStruct) AssessmentAnalyticsKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:analytics", assessmentID)
}

// AssessmentHeatmapKey returns the cache key for the violation heatmap.
func (r *CacheKeyStruct) AssessmentHeatmapKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:heatmap", assessmentID)
}

// SessionEventsChannel returns the PubSub channel carrying one session's
// finalization, watched by its open views.
func (r *CacheKeyStruct) SessionEventsChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel for live session events.
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
