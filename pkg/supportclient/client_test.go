package supportclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"talanoor-go/internal/model"
	"talanoor-go/internal/realtime"

	"github.com/gorilla/websocket"
)

func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": status, "message": "success", "data": data})
}

func TestMessagesGuestAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chats/guest/c1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Guest-Token"); got != "g-token" {
			t.Errorf("X-Guest-Token = %q", got)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("游客请求不应带 Authorization")
		}
		writeEnvelope(w, http.StatusOK, []model.Message{{ID: 1, ChatID: "c1", Content: "سلام", IsFromUser: true}})
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL, Auth{GuestToken: "g-token"}).Messages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "سلام" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestMessagesBearerAuthAndAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chats/c1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer jwt" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":403,"message":"دسترسی غیرمجاز","data":null}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Auth{Token: "jwt", GuestToken: "ignored"}).Messages(context.Background(), "c1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "دسترسی غیرمجاز" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestSendCarriesClientMsgID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if body["content"] != "hi" || body["clientMsgId"] != "k1" {
			t.Errorf("body = %v", body)
		}
		writeEnvelope(w, http.StatusCreated, model.Message{ID: 9, ChatID: "c1", Content: "hi", IsFromUser: true})
	}))
	defer srv.Close()

	msg, err := NewClient(srv.URL, Auth{GuestToken: "g"}).Send(context.Background(), "c1", "hi", "k1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != 9 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestPollerReplacesStateAndSurvivesFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		msgs := make([]model.Message, n)
		for i := range msgs {
			msgs[i] = model.Message{ID: uint(i + 1), ChatID: "c1"}
		}
		writeEnvelope(w, http.StatusOK, msgs)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var updates [][]model.Message
	p := NewPoller(NewClient(srv.URL, Auth{GuestToken: "g"}), "c1", 10*time.Millisecond, func(msgs []model.Message) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, msgs)
		if len(updates) == 2 {
			cancel()
		}
	})

	finished := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	// 第二次请求失败被跳过，第三次拉到 3 条
	if len(updates[0]) != 1 || len(updates[1]) != 3 {
		t.Errorf("update sizes = %d, %d", len(updates[0]), len(updates[1]))
	}
}

func TestNewPollerDefaultInterval(t *testing.T) {
	p := NewPoller(NewClient("http://localhost", Auth{}), "c1", 0, func([]model.Message) {})
	if p.interval != DefaultPollInterval {
		t.Errorf("interval = %v", p.interval)
	}
}

func TestSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/chats/c1" || r.URL.Query().Get("guestToken") != "g" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(realtime.NewStatusEvent("c1", model.ChatStatusClosed))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	events, err := NewClient(srv.URL, Auth{GuestToken: "g"}).Subscribe(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("stream closed before first event")
		}
		if ev.Type != realtime.EventStatus || ev.Status != model.ChatStatusClosed {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected stream to close after server close frame")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed")
	}
}

func TestSubscribeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Auth{Token: "bad"}).Subscribe(context.Background(), "c1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 APIError", err)
	}
}
