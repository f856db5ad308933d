package handler_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	startPath := "/api/v1/assessments/" + s.assessment.ID.String() + "/sessions"

	code, env := s.do(http.MethodPost, startPath, "cand-1", service.RoleCandidate, nil)
	if code != http.StatusCreated {
		t.Fatalf("first start status = %d, want 201", code)
	}
	var started struct {
		Session *model.Session `json:"session"`
		Resumed bool           `json:"resumed"`
	}
	decode(t, env, &started)
	if started.Resumed || len(started.Session.QuestionOrder) != 2 {
		t.Fatalf("started = %+v, want new session with 2 questions", started)
	}
	base := "/api/v1/sessions/" + started.Session.ID.String()

	code, env = s.do(http.MethodPost, startPath, "cand-1", service.RoleCandidate, nil)
	var again struct {
		Session *model.Session `json:"session"`
		Resumed bool           `json:"resumed"`
	}
	decode(t, env, &again)
	if code != http.StatusOK || !again.Resumed || again.Session.ID != started.Session.ID {
		t.Errorf("second start = %d resumed=%v id=%s, want 200 resumed same id", code, again.Resumed, again.Session.ID)
	}

	q1, q2 := s.questions[0].ID, s.questions[1].ID
	for _, a := range []struct {
		qid      uuid.UUID
		selected int
	}{{q1, 1}, {q2, 0}} {
		code, env = s.do(http.MethodPost, base+"/answers", "cand-1", service.RoleCandidate, map[string]interface{}{
			"question_id": a.qid, "selected_index": a.selected, "time_spent_seconds": 12,
		})
		if code != http.StatusOK {
			t.Fatalf("record answer status = %d, error = %+v", code, env.Error)
		}
	}

	code, env = s.do(http.MethodGet, base, "cand-1", service.RoleCandidate, nil)
	var view struct {
		Questions []model.QuestionForCandidate `json:"questions"`
		Answers   map[string]model.AnswerView  `json:"answers"`
	}
	decode(t, env, &view)
	if code != http.StatusOK || len(view.Questions) != 2 || len(view.Answers) != 2 {
		t.Errorf("resume = %d with %d questions and %d answers, want 200/2/2", code, len(view.Questions), len(view.Answers))
	}

	code, env = s.do(http.MethodPost, base+"/violations", "cand-1", service.RoleCandidate, map[string]string{"type": "tab_hidden"})
	var rec struct {
		Recorded bool `json:"recorded"`
	}
	decode(t, env, &rec)
	if code != http.StatusAccepted || !rec.Recorded {
		t.Errorf("violation = %d recorded=%v, want 202 true", code, rec.Recorded)
	}

	code, env = s.do(http.MethodPost, base+"/time", "cand-1", service.RoleCandidate, map[string]int{"time_remaining_seconds": 900})
	var snap struct {
		Remaining int `json:"time_remaining_seconds"`
	}
	decode(t, env, &snap)
	if code != http.StatusOK || snap.Remaining != 900 {
		t.Errorf("snapshot = %d remaining=%d, want 200/900", code, snap.Remaining)
	}

	code, env = s.do(http.MethodPost, base+"/complete", "cand-1", service.RoleCandidate, nil)
	var done service.Completion
	decode(t, env, &done)
	if code != http.StatusOK || done.AlreadyFinalized {
		t.Fatalf("complete = %d already=%v, want 200 false", code, done.AlreadyFinalized)
	}
	if done.Session.Score == nil || *done.Session.Score != 50 || done.Session.Passed == nil || !*done.Session.Passed {
		t.Errorf("result score=%v passed=%v, want 50 true", done.Session.Score, done.Session.Passed)
	}

	code, env = s.do(http.MethodPost, base+"/complete", "cand-1", service.RoleCandidate, map[string]string{"reason": "manual"})
	decode(t, env, &done)
	if code != http.StatusOK || !done.AlreadyFinalized || *done.Session.Score != 50 {
		t.Errorf("repeat complete = %d already=%v, want 200 true with the stored score", code, done.AlreadyFinalized)
	}

	code, env = s.do(http.MethodPost, base+"/answers", "cand-1", service.RoleCandidate, map[string]interface{}{
		"question_id": q1, "selected_index": 0,
	})
	if code != http.StatusConflict || errCode(env) != "SESSION_NOT_ACTIVE" {
		t.Errorf("answer after finish = %d %s, want 409 SESSION_NOT_ACTIVE", code, errCode(env))
	}

	code, env = s.do(http.MethodGet, base+"/review", "cand-1", service.RoleCandidate, nil)
	var review struct {
		Items []model.ReviewItem `json:"items"`
	}
	decode(t, env, &review)
	if code != http.StatusOK || len(review.Items) != 2 {
		t.Errorf("review = %d with %d items, want 200/2", code, len(review.Items))
	}
}

func TestSessionErrors(t *testing.T) {
	s := newTestServer(t, func(a *model.Assessment) { a.MaxAttempts = 1 })
	sess := s.start("cand-1")
	base := "/api/v1/sessions/" + sess.ID.String()

	tests := []struct {
		name     string
		method   string
		path     string
		userID   string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"missing token", http.MethodGet, base, "", nil, http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"malformed id", http.MethodGet, "/api/v1/sessions/not-a-uuid", "cand-1", nil, http.StatusBadRequest, "INVALID_ID"},
		{"foreign session", http.MethodGet, base, "cand-2", nil, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"unknown assessment", http.MethodPost, "/api/v1/assessments/" + uuid.NewString() + "/sessions", "cand-1", nil, http.StatusNotFound, "ASSESSMENT_NOT_FOUND"},
		{"missing selected index", http.MethodPost, base + "/answers", "cand-1", map[string]interface{}{"question_id": s.questions[0].ID}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"question outside session", http.MethodPost, base + "/answers", "cand-1", map[string]interface{}{"question_id": uuid.New(), "selected_index": 0}, http.StatusBadRequest, "QUESTION_NOT_IN_SESSION"},
		{"negative snapshot", http.MethodPost, base + "/time", "cand-1", map[string]int{"time_remaining_seconds": -1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad completion reason", http.MethodPost, base + "/complete", "cand-1", map[string]string{"reason": "bored"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(tt.method, tt.path, tt.userID, service.RoleCandidate, tt.body)
			if code != tt.wantCode || errCode(env) != tt.wantErr {
				t.Errorf("got %d %s, want %d %s", code, errCode(env), tt.wantCode, tt.wantErr)
			}
		})
	}
}

func TestStartAttemptLimit(t *testing.T) {
	s := newTestServer(t, func(a *model.Assessment) { a.MaxAttempts = 1 })
	sess := s.start("cand-1")
	if code, _ := s.do(http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/complete", "cand-1", service.RoleCandidate, nil); code != http.StatusOK {
		t.Fatalf("complete status = %d", code)
	}

	code, env := s.do(http.MethodPost, "/api/v1/assessments/"+s.assessment.ID.String()+"/sessions", "cand-1", service.RoleCandidate, nil)
	if code != http.StatusTooManyRequests || errCode(env) != "ATTEMPT_LIMIT_EXCEEDED" {
		t.Fatalf("got %d %s, want 429 ATTEMPT_LIMIT_EXCEEDED", code, errCode(env))
	}
	if got := env.Error.Details["remaining_attempts"]; got != float64(0) {
		t.Errorf("remaining_attempts = %v, want 0", got)
	}
}

func TestStartCooldown(t *testing.T) {
	s := newTestServer(t, func(a *model.Assessment) { a.CooldownMinutes = 60 })
	sess := s.start("cand-1")
	s.do(http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/complete", "cand-1", service.RoleCandidate, nil)

	code, env := s.do(http.MethodPost, "/api/v1/assessments/"+s.assessment.ID.String()+"/sessions", "cand-1", service.RoleCandidate, nil)
	if code != http.StatusTooManyRequests || errCode(env) != "COOLDOWN_ACTIVE" {
		t.Fatalf("got %d %s, want 429 COOLDOWN_ACTIVE", code, errCode(env))
	}
	secs, _ := env.Error.Details["retry_after_seconds"].(float64)
	if secs <= 3500 || secs > 3600 {
		t.Errorf("retry_after_seconds = %v, want about 3600", secs)
	}
}

func TestViolationAlwaysAccepted(t *testing.T) {
	s := newTestServer(t, nil)
	sess := s.start("cand-1")

	bodies := []interface{}{
		map[string]string{"type": "devtools_open"},
		map[string]string{},
	}
	for _, body := range bodies {
		code, env := s.do(http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/violations", "cand-1", service.RoleCandidate, body)
		if code != http.StatusAccepted {
			t.Errorf("status = %d, want 202 for %v", code, body)
		}
		var rec struct {
			Recorded bool `json:"recorded"`
		}
		decode(t, env, &rec)
		if rec.Recorded {
			t.Errorf("invalid violation %v was recorded", body)
		}
	}
	// Foreign sessions are silently dropped as well.
	if code, _ := s.do(http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/violations", "cand-2", service.RoleCandidate, map[string]string{"type": "tab_hidden"}); code != http.StatusAccepted {
		t.Errorf("foreign violation status = %d, want 202", code)
	}
}

func TestProctorAnalytics(t *testing.T) {
	s := newTestServer(t, nil)
	sess := s.start("cand-1")
	s.do(http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/answers", "cand-1", service.RoleCandidate, map[string]interface{}{
		"question_id": s.questions[0].ID, "selected_index": 1, "time_spent_seconds": 4,
	})
	s.do(http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/complete", "cand-1", service.RoleCandidate, nil)
	prefix := "/api/v1/proctor/assessments/" + s.assessment.ID.String()

	if code, env := s.do(http.MethodGet, prefix+"/analytics", "cand-1", service.RoleCandidate, nil); code != http.StatusForbidden || errCode(env) != "FORBIDDEN" {
		t.Errorf("candidate analytics = %d %s, want 403 FORBIDDEN", code, errCode(env))
	}

	code, env := s.do(http.MethodGet, prefix+"/analytics", "proc-1", service.RoleProctor, nil)
	var cohort model.CohortAnalytics
	decode(t, env, &cohort)
	if code != http.StatusOK || cohort.TotalCompleted != 1 || len(cohort.ScoreDistribution) != 10 {
		t.Errorf("analytics = %d completed=%d buckets=%d, want 200/1/10", code, cohort.TotalCompleted, len(cohort.ScoreDistribution))
	}

	code, env = s.do(http.MethodGet, prefix+"/heatmap", "proc-1", service.RoleProctor, nil)
	var heat model.ViolationHeatmap
	decode(t, env, &heat)
	if code != http.StatusOK || !heat.Approximate {
		t.Errorf("heatmap = %d approximate=%v, want 200 true", code, heat.Approximate)
	}

	if code, env := s.do(http.MethodGet, "/api/v1/proctor/assessments/"+uuid.NewString()+"/analytics", "proc-1", service.RoleProctor, nil); code != http.StatusNotFound {
		t.Errorf("unknown assessment = %d %s, want 404", code, errCode(env))
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, env := s.do(http.MethodGet, "/health", "", "", nil)
	var out struct {
		Status string `json:"status"`
	}
	decode(t, env, &out)
	if code != http.StatusOK || out.Status != "ok" {
		t.Errorf("health = %d %q, want 200 ok", code, out.Status)
	}
}
