package handler_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type wsEvent struct {
	Event                string `json:"event"`
	Code                 string `json:"code"`
	Message              string `json:"message"`
	TimeRemainingSeconds int    `json:"time_remaining_seconds"`
	AlreadyFinalized     bool   `json:"already_finalized"`
	Session              *struct {
		Status string `json:"status"`
		Score  *int   `json:"score"`
	} `json:"session"`
}

func dialStream(t *testing.T, srv *httptest.Server, sessionID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/sessions/" + sessionID + "/stream?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial() error = %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wsEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return ev
}

func TestSessionStream(t *testing.T) {
	s := newTestServer(t, nil)
	sess := s.start("cand-1")
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	conn := dialStream(t, srv, sess.ID.String(), s.token("cand-1", service.RoleCandidate))

	conn.WriteJSON(map[string]string{"action": "ping"})
	if ev := readEvent(t, conn); ev.Event != "pong" {
		t.Errorf("event = %q, want pong", ev.Event)
	}

	conn.WriteJSON(map[string]interface{}{"action": "answer", "question_id": s.questions[0].ID, "selected_index": 1, "time_spent_seconds": 3})
	if ev := readEvent(t, conn); ev.Event != "answer_saved" {
		t.Errorf("event = %q (%s), want answer_saved", ev.Event, ev.Code)
	}

	conn.WriteJSON(map[string]interface{}{"action": "answer", "question_id": "nope", "selected_index": 1})
	if ev := readEvent(t, conn); ev.Event != "error" || ev.Code != "INVALID_ID" {
		t.Errorf("event = %q %q, want error INVALID_ID", ev.Event, ev.Code)
	}

	conn.WriteJSON(map[string]interface{}{"action": "violation", "type": "fullscreen_exit"})
	conn.WriteJSON(map[string]string{"action": "finish"})
	ev := readEvent(t, conn)
	if ev.Event != "completed" || ev.Session == nil || ev.Session.Status != "completed" {
		t.Fatalf("event = %+v, want completed session", ev)
	}
	if ev.Session.Score == nil || *ev.Session.Score != 50 {
		t.Errorf("score = %v, want 50", ev.Session.Score)
	}

	got, _ := s.store.Get(context.Background(), sess.ID)
	if got.TabSwitchCount != 1 {
		t.Errorf("TabSwitchCount = %d, want 1", got.TabSwitchCount)
	}
}

func TestSessionStreamExpiry(t *testing.T) {
	s := newTestServer(t, nil)
	sess := s.start("cand-1")
	if _, err := s.orch.SnapshotTime(context.Background(), sess.ID, "cand-1", 0); err != nil {
		t.Fatalf("SnapshotTime() error = %v", err)
	}
	srv := httptest.NewServer(s.buildEngine(10 * time.Millisecond))
	defer srv.Close()

	conn := dialStream(t, srv, sess.ID.String(), s.token("cand-1", service.RoleCandidate))

	if ev := readEvent(t, conn); ev.Event != "expired" || ev.Message != "time is up" {
		t.Fatalf("event = %+v, want expired", ev)
	}
	ev := readEvent(t, conn)
	if ev.Event != "completed" || ev.Session.Status != "timed_out" {
		t.Fatalf("event = %+v, want completed timed_out", ev)
	}

	// Reconnecting to a finalized session reports the stored result.
	again := dialStream(t, srv, sess.ID.String(), s.token("cand-1", service.RoleCandidate))
	if ev := readEvent(t, again); ev.Event != "completed" || !ev.AlreadyFinalized {
		t.Errorf("event = %+v, want already finalized", ev)
	}
}

// readUntilCompleted skips countdown ticks and returns the completed event.
func readUntilCompleted(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	for {
		ev := readEvent(t, conn)
		if ev.Event == "tick" {
			continue
		}
		return ev
	}
}

func assertStreamClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var ev wsEvent
	if err := conn.ReadJSON(&ev); err == nil {
		t.Errorf("received %+v after completed, want closed stream", ev)
	}
}

func TestSessionStreamStopsWhenFinalizedElsewhere(t *testing.T) {
	s := newTestServer(t, nil)
	sess := s.start("cand-1")
	srv := httptest.NewServer(s.buildEngine(20 * time.Millisecond))
	defer srv.Close()

	conn := dialStream(t, srv, sess.ID.String(), s.token("cand-1", service.RoleCandidate))
	if ev := readEvent(t, conn); ev.Event != "tick" {
		t.Fatalf("event = %+v, want tick", ev)
	}

	// Another tab finishes the session.
	if _, err := s.orch.Complete(context.Background(), sess.ID, "cand-1", model.CompletionManual, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	ev := readUntilCompleted(t, conn)
	if ev.Event != "completed" || !ev.AlreadyFinalized || ev.Session == nil || ev.Session.Status != "completed" {
		t.Fatalf("event = %+v, want already finalized completed session", ev)
	}
	assertStreamClosed(t, conn)
}

func TestSessionStreamEndsOnInactiveAnswerWithoutWatch(t *testing.T) {
	s := newTestServer(t, nil)
	sess := s.start("cand-1")
	srv := httptest.NewServer(s.buildEngineWith(time.Hour, nil))
	defer srv.Close()

	conn := dialStream(t, srv, sess.ID.String(), s.token("cand-1", service.RoleCandidate))
	conn.WriteJSON(map[string]string{"action": "ping"})
	if ev := readEvent(t, conn); ev.Event != "pong" {
		t.Fatalf("event = %+v, want pong", ev)
	}

	if _, err := s.orch.Expire(context.Background(), sess.ID); err != nil {
		t.Fatalf("Expire() error = %v", err)
	}

	conn.WriteJSON(map[string]interface{}{"action": "answer", "question_id": s.questions[0].ID, "selected_index": 1})
	if ev := readEvent(t, conn); ev.Event != "error" || ev.Code != "SESSION_NOT_ACTIVE" {
		t.Fatalf("event = %+v, want SESSION_NOT_ACTIVE", ev)
	}
	ev := readEvent(t, conn)
	if ev.Event != "completed" || !ev.AlreadyFinalized || ev.Session == nil || ev.Session.Status != "timed_out" {
		t.Fatalf("event = %+v, want already finalized timed_out session", ev)
	}
	assertStreamClosed(t, conn)
}

func TestSessionStreamRejectsForeignUser(t *testing.T) {
	s := newTestServer(t, nil)
	sess := s.start("cand-1")
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/sessions/" + sess.ID.String() + "/stream?token=" + s.token("cand-2", service.RoleCandidate)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() succeeded for a foreign session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %v, want 404", resp)
	}
}

func TestMonitorStream(t *testing.T) {
	s := newTestServer(t, nil)
	s.start("cand-1")
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/proctor/assessments/"+s.assessment.ID.String()+"/monitor", nil)
	req.Header.Set("Authorization", "Bearer "+s.token("proc-1", service.RoleProctor))
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET monitor error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	waitEvent := func(name string) string {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %s", name)
				}
				if strings.TrimSpace(strings.TrimPrefix(line, "event:")) != name || !strings.HasPrefix(line, "event:") {
					continue
				}
				data := <-lines
				return strings.TrimSpace(strings.TrimPrefix(data, "data:"))
			case <-timeout:
				t.Fatalf("timed out waiting for %s", name)
			}
		}
	}

	if data := waitEvent("snapshot"); !strings.Contains(data, `"total_in_progress":1`) {
		t.Errorf("snapshot = %s, want one session in progress", data)
	}
	s.start("cand-2")
	if data := waitEvent("session_started"); !strings.Contains(data, "cand-2") {
		t.Errorf("session_started = %s, want cand-2", data)
	}
}
