package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/internal/approval"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/fs"
	"github.com/atelier-dev/atelier/internal/llm"
	"github.com/atelier-dev/atelier/internal/session"
)

const testAddr = "127.0.0.1:18936"

func startTestServer(t *testing.T) *Server {
	t.Helper()

	gate := approval.NewGate(time.Minute)
	t.Cleanup(gate.Close)

	store := session.NewMemoryStore()
	sess := session.NewSession("s1", "/workspace")
	sess.AddMessage(&llm.Message{Role: "user", Content: "hello"})
	if err := store.Save(sess); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(testAddr, &Deps{
		Cfg:   config.Default("/workspace"),
		Store: store,
		Gate:  gate,
		FS:    fs.NewMockFS(),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("failed to stop server: %v", err)
		}
	})

	// Wait until the listener answers
	for i := 0; i < 20; i++ {
		resp, err := http.Get("http://" + testAddr + "/health")
		if err == nil {
			resp.Body.Close()
			return srv
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("server never became ready")
	return nil
}

func TestHealthNeedsNoAuth(t *testing.T) {
	startTestServer(t)

	resp, err := http.Get("http://" + testAddr + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSessionRoutesRequireAuth(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Get("http://" + testAddr + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + testAddr + "/api/sessions?token=" + srv.AuthToken())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	var body struct {
		Sessions []*session.Metadata `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != "s1" {
		t.Errorf("unexpected session list: %+v", body.Sessions)
	}
}

func TestDeleteSessionRoute(t *testing.T) {
	srv := startTestServer(t)

	watcher := NewClient(srv.hub, nil, srv.deps)
	srv.hub.Register(watcher)

	req, _ := http.NewRequest(http.MethodDelete, "http://"+testAddr+"/api/sessions/s1", nil)
	req.Header.Set("Authorization", "Bearer "+srv.AuthToken())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if _, err := srv.deps.Store.Load("s1"); err == nil {
		t.Error("session should be gone after delete")
	}

	// Connected clients learn about the delete
	select {
	case msg := <-watcher.send:
		if msg.Type != MessageTypeSessions {
			t.Errorf("expected %s frame, got %s", MessageTypeSessions, msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("session list update never arrived")
	}
}

func TestAuthorizedChecksTokenForExtraEndpoints(t *testing.T) {
	srv, err := NewServer(testAddr, &Deps{
		Cfg:   config.Default("/workspace"),
		Store: session.NewMemoryStore(),
	})
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+testAddr+"/term", nil)
	if srv.Authorized(req) {
		t.Error("request without credentials must not be authorized")
	}

	req.Header.Set("Authorization", "Bearer "+srv.AuthToken())
	if !srv.Authorized(req) {
		t.Error("bearer token must authorize the request")
	}

	req, _ = http.NewRequest(http.MethodGet, "http://"+testAddr+"/term?token="+srv.AuthToken(), nil)
	if !srv.Authorized(req) {
		t.Error("query token must authorize the request")
	}
}

func TestApprovalRouteValidatesBody(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Post(
		"http://"+testAddr+"/api/approvals/xyz?token="+srv.AuthToken(),
		"application/json",
		bytes.NewBufferString(`{}`),
	)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing approved field, got %d", resp.StatusCode)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	startTestServer(t)

	resp, err := http.Get("http://" + testAddr + "/ws?token=wrong")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}
