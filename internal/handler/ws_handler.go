package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/timer"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSOptions tunes the session stream.
type WSOptions struct {
	AllowedOrigins []string
	// SnapshotEvery is the number of ticks between persisted snapshots.
	SnapshotEvery int
	// TickInterval defaults to one second.
	TickInterval time.Duration
}

// WSHandler streams a live session view: countdown ticks out, answers,
// violations and finish in.
type WSHandler struct {
	orch     *service.Orchestrator
	sub      Subscriber
	log      zerolog.Logger
	upgrader websocket.Upgrader
	opts     WSOptions
}

// NewWSHandler creates a new WSHandler. sub may be nil, in which case a
// finalization made elsewhere is only noticed on the next answer.
func NewWSHandler(orch *service.Orchestrator, sub Subscriber, log zerolog.Logger, opts WSOptions) *WSHandler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &WSHandler{
		orch:     orch,
		sub:      sub,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(opts.AllowedOrigins),
		opts:     opts,
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:session_id/stream?token=
// Closing the socket stops the countdown but never finalizes the session.
func (h *WSHandler) SessionStream(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	sessionID, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before reading the session so a finalization in between
	// is still delivered.
	var finalized <-chan model.SessionEvent
	if h.sub != nil {
		events, unsubscribe, err := h.sub.SubscribeSession(ctx, sessionID)
		if err != nil {
			h.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Finalization watch unavailable")
		} else {
			defer unsubscribe()
			finalized = events
		}
	}

	// Resolve before upgrading so ownership failures get a proper status.
	view, err := h.orch.Resume(ctx, sessionID, userID)
	if err != nil {
		failService(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if !view.Session.IsActive() {
		ws.NewWriter(conn).WriteTyped(ws.CompletedResponse{Event: ws.EventCompleted, Session: view.Session, AlreadyFinalized: true})
		return
	}

	st := &stream{
		h:         h,
		w:         ws.NewWriter(conn),
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		log: h.log.With().
			Str("user_id", userID).
			Str("session_id", sessionID.String()).
			Logger(),
	}
	st.ctrl = h.newController(ctx, st, view.Session.TimeRemainingSeconds)
	go st.ctrl.Run(ctx)
	defer st.ctrl.Stop()
	if finalized != nil {
		go st.watch(ctx, finalized)
	}

	st.log.Info().Int("time_remaining_seconds", view.Session.TimeRemainingSeconds).Msg("Candidate connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if st.ended.Load() {
				st.log.Debug().Msg("Stream ended")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				st.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			st.handleAnswer(ctx, &msg)
		case ws.ActionViolation:
			h.orch.ReportViolation(ctx, sessionID, userID, msg.Type, msg.Timestamp)
		case ws.ActionFinish:
			if st.handleFinish(ctx) {
				return
			}
		case ws.ActionPing:
			st.w.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			st.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			st.w.WriteError(string(response.ErrValidation), "unknown action: "+string(msg.Action), false)
		}
	}
}

// stream is the state of one connected session view.
type stream struct {
	h         *WSHandler
	w         *ws.Writer
	conn      *websocket.Conn
	ctrl      *timer.Controller
	sessionID uuid.UUID
	userID    string
	log       zerolog.Logger

	// finalizing is set while this view runs a finalization itself; its
	// own session_finalized event is then ignored.
	finalizing atomic.Bool
	timeUpSent atomic.Bool
	ended      atomic.Bool
}

// end stops the countdown, sends the final session once and closes the
// socket, which ends the read loop.
func (st *stream) end(sess *model.Session, alreadyFinalized bool) {
	if !st.ended.CompareAndSwap(false, true) {
		return
	}
	st.ctrl.Stop()
	st.w.WriteTyped(ws.CompletedResponse{Event: ws.EventCompleted, Session: sess, AlreadyFinalized: alreadyFinalized})
	st.conn.Close()
}

// endFinalized reloads a session finalized by another trigger and ends the
// stream with it.
func (st *stream) endFinalized(ctx context.Context) {
	view, err := st.h.orch.Resume(context.WithoutCancel(ctx), st.sessionID, st.userID)
	if err != nil {
		st.log.Warn().Err(err).Msg("Reload of finalized session failed")
		st.end(nil, true)
		return
	}
	st.end(view.Session, true)
}

// watch ends the stream when the session is finalized elsewhere: another
// tab, the REST API or the expiry sweep.
func (st *stream) watch(ctx context.Context, events <-chan model.SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != model.EventSessionFinalized || ev.SessionID != st.sessionID || st.finalizing.Load() {
				continue
			}
			st.log.Info().Msg("Session finalized elsewhere, stopping countdown")
			st.endFinalized(ctx)
			return
		}
	}
}

// newController wires the countdown to the socket. Snapshots and the
// expiry finalization outlive the socket so an in-flight write completes.
func (h *WSHandler) newController(ctx context.Context, st *stream, remaining int) *timer.Controller {
	return timer.New(timer.Config{
		Remaining: remaining,
		Interval:  h.opts.TickInterval,
		OnTick: func(r int) {
			st.w.WriteTyped(ws.TickResponse{Event: ws.EventTick, TimeRemainingSeconds: r})
		},
		SnapshotEvery: h.opts.SnapshotEvery,
		OnSnapshot: func(r int) {
			if _, err := h.orch.SnapshotTime(context.WithoutCancel(ctx), st.sessionID, st.userID, r); err != nil {
				st.log.Warn().Err(err).Int("remaining", r).Msg("Time snapshot failed")
			}
		},
		OnExpire: func(ctx context.Context) error {
			if st.timeUpSent.CompareAndSwap(false, true) {
				st.w.WriteTyped(ws.ExpiredResponse{Event: ws.EventExpired, Message: ws.TimeUpMessage})
			}
			st.finalizing.Store(true)
			done, err := h.orch.Expire(context.WithoutCancel(ctx), st.sessionID)
			if err != nil {
				st.finalizing.Store(false)
				st.log.Error().Err(err).Msg("Expiry finalization failed, retrying on next tick")
				return err
			}
			st.log.Info().Msg("Session timed out")
			st.end(done.Session, done.AlreadyFinalized)
			return nil
		},
	})
}

func (st *stream) handleAnswer(ctx context.Context, msg *ws.RequestPayload) {
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		st.w.WriteError(string(response.ErrInvalidID), "invalid question_id format", false)
		return
	}
	if msg.SelectedIndex == nil {
		st.w.WriteError(string(response.ErrValidation), "selected_index is required", false)
		return
	}

	remaining := st.ctrl.Remaining()
	answer, err := st.h.orch.RecordAnswer(ctx, st.sessionID, st.userID, service.AnswerInput{
		QuestionID:           questionID,
		SelectedIndex:        *msg.SelectedIndex,
		TimeSpentSeconds:     msg.TimeSpentSeconds,
		TimeRemainingSeconds: &remaining,
	})
	if err != nil {
		writeServiceError(st.w, err)
		var se *service.Error
		if errors.As(err, &se) && se.Code == response.ErrSessionNotActive && !st.finalizing.Load() {
			st.endFinalized(ctx)
		}
		return
	}
	st.w.WriteTyped(ws.AnswerSavedResponse{Event: ws.EventAnswerSaved, QuestionID: answer.QuestionID, AnsweredAt: answer.AnsweredAt})
}

// handleFinish completes the session and reports whether the stream is over.
func (st *stream) handleFinish(ctx context.Context) bool {
	remaining := st.ctrl.Remaining()
	st.finalizing.Store(true)
	done, err := st.h.orch.Complete(context.WithoutCancel(ctx), st.sessionID, st.userID, model.CompletionManual, &remaining)
	if err != nil {
		st.finalizing.Store(false)
		writeServiceError(st.w, err)
		return false
	}
	st.end(done.Session, done.AlreadyFinalized)
	return true
}

func writeServiceError(w *ws.Writer, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		w.WriteError(string(response.ErrInternal), response.GetMessage(response.ErrInternal), false)
		return
	}
	w.WriteError(string(se.Code), response.GetMessage(se.Code), se.Retryable())
}
