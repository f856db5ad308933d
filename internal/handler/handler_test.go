package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type testServer struct {
	t          *testing.T
	engine     *gin.Engine
	store      *memstore.Store
	broker     *memstore.Broker
	orch       *service.Orchestrator
	verifier   *service.TokenVerifier
	assessment *model.Assessment
	questions  []model.Question
}

// newTestServer serves one published assessment of two questions whose
// correct answers are 1 and 2.
func newTestServer(t *testing.T, mutate func(*model.Assessment)) *testServer {
	t.Helper()
	store := memstore.New()
	broker := memstore.NewBroker()

	a := &model.Assessment{
		ID:               uuid.New(),
		Title:            "Thermodynamics",
		Status:           model.AssessmentStatusPublished,
		TimeLimitMinutes: 30,
		PassScore:        50,
		QuestionCount:    2,
		AllowReview:      true,
	}
	if mutate != nil {
		mutate(a)
	}
	store.PutAssessment(a)
	questions := []model.Question{
		{ID: uuid.New(), Position: 1, Stem: "Heat flows from?", Options: []string{"cold", "hot", "neither"}, CorrectIndex: 1},
		{ID: uuid.New(), Position: 2, Stem: "Entropy of an isolated system?", Options: []string{"falls", "fixed", "rises"}, CorrectIndex: 2},
	}
	store.PutQuestions(a.ID, questions)

	orch := service.NewOrchestrator(service.Stores{
		Sessions:      store,
		Answers:       store,
		AnswerHistory: store,
		Assessments:   store,
		Questions:     store,
		AnswerKeys:    store,
		Violations:    store,
		Publisher:     broker,
	}, zerolog.Nop(), service.WithViolationDebounce(0))

	s := &testServer{
		t:          t,
		store:      store,
		broker:     broker,
		orch:       orch,
		verifier:   service.NewTokenVerifier("handler-test-secret"),
		assessment: a,
		questions:  questions,
	}
	s.engine = s.buildEngine(time.Hour)
	return s
}

// buildEngine wires the router; tick sets the session stream countdown interval.
func (s *testServer) buildEngine(tick time.Duration) *gin.Engine {
	return s.buildEngineWith(tick, s.broker)
}

func (s *testServer) buildEngineWith(tick time.Duration, streamSub handler.Subscriber) *gin.Engine {
	log := zerolog.Nop()
	return router.SetupRouter(s.verifier, &router.Handlers{
		Session:   handler.NewSessionHandler(s.orch),
		WS:        handler.NewWSHandler(s.orch, streamSub, log, handler.WSOptions{SnapshotEvery: 5, TickInterval: tick}),
		Analytics: handler.NewAnalyticsHandler(s.orch),
		Monitor:   handler.NewMonitorHandler(s.orch, s.broker, log),
		Health:    handler.NewHealthHandler(nil),
	}, &config.Config{GinMode: gin.TestMode})
}

func (s *testServer) token(userID, role string) string {
	s.t.Helper()
	tok, err := s.verifier.Sign(userID, role, time.Hour)
	if err != nil {
		s.t.Fatalf("Sign() error = %v", err)
	}
	return tok
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

// do sends a request as userID (empty for anonymous) and decodes the envelope.
func (s *testServer) do(method, path, userID, role string, body interface{}) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(userID, role))
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func (s *testServer) start(userID string) *model.Session {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/v1/assessments/"+s.assessment.ID.String()+"/sessions", userID, service.RoleCandidate, nil)
	if code != http.StatusCreated && code != http.StatusOK {
		s.t.Fatalf("start status = %d, error = %+v", code, env.Error)
	}
	var out struct {
		Session *model.Session `json:"session"`
	}
	decode(s.t, env, &out)
	return out.Session
}

func decode(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}
