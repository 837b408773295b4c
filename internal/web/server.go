package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atelier-dev/atelier/internal/approval"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/fs"
	"github.com/atelier-dev/atelier/internal/llm"
	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/session"
	"github.com/atelier-dev/atelier/internal/tools"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const authTokenLength = 32

// Deps bundles everything a connection needs to run conversations
type Deps struct {
	Cfg       *config.Config
	Store     session.Store
	Gate      *approval.Gate
	FS        fs.FileSystem
	LLM       llm.Client
	Services  tools.LanguageServices
	Approvals *ApprovalRouter
}

// Server is the HTTP front-end: REST routes for session management and
// approvals, a websocket for the chat stream.
type Server struct {
	addr       string
	authToken  string
	httpServer *http.Server
	deps       *Deps
	hub        *Hub
	extra      map[string]http.Handler // additional handlers, e.g. /term
}

// NewServer creates a web server bound to addr
func NewServer(addr string, deps *Deps) (*Server, error) {
	token, err := generateAuthToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate auth token: %w", err)
	}

	if deps.Approvals == nil {
		deps.Approvals = NewApprovalRouter()
	}

	return &Server{
		addr:      addr,
		authToken: token,
		deps:      deps,
		hub:       NewHub(),
		extra:     make(map[string]http.Handler),
	}, nil
}

// Handle registers an extra handler before Start, e.g. the terminal endpoint
func (s *Server) Handle(path string, handler http.Handler) {
	s.extra[path] = handler
}

// Start starts the web server in the background
func (s *Server) Start() error {
	router := httprouter.New()

	router.GET("/health", s.handleHealth)
	router.GET("/api/sessions", s.requireAuth(s.handleListSessions))
	router.DELETE("/api/sessions/:id", s.requireAuth(s.handleDeleteSession))
	router.POST("/api/approvals/:id", s.requireAuth(s.handleResolveApproval))
	router.HandlerFunc(http.MethodGet, "/ws", s.handleWebSocket)

	for path, handler := range s.extra {
		router.Handler(http.MethodGet, path, handler)
	}

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go s.hub.Run()

	go func() {
		logger.Info("web server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down
func (s *Server) Stop() error {
	logger.Info("stopping web server")
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

// URL returns the server URL with the auth token attached
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s/?token=%s", s.addr, s.authToken)
}

// AuthToken returns the per-process auth token
func (s *Server) AuthToken() string {
	return s.authToken
}

func (s *Server) requireAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !s.Authorized(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, ps)
	}
}

// Authorized reports whether the request carries the auth token, either as a
// `token` query parameter or a bearer Authorization header. Extra handlers
// registered via Handle share this check.
func (s *Server) Authorized(r *http.Request) bool {
	if token := r.URL.Query().Get("token"); token == s.authToken {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.authToken
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	metas, err := s.deps.Store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": metas})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if err := s.deps.Store.Delete(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	s.hub.BroadcastSessionList(s.deps.Store)
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")

	var body struct {
		Approved *bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Approved == nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "body must be {\"approved\": true|false}"})
		return
	}

	// The resumed turn may run for a while; answer as soon as the decision
	// is accepted.
	go func() {
		if err := s.deps.Approvals.Resolve(context.Background(), id, *body.Approved); err != nil {
			logger.Error("approval resume failed: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"approval_id": id, "approved": *body.Approved})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.Authorized(r) {
		logger.Warn("websocket connection rejected: invalid auth token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // local IDE webview
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade websocket: %v", err)
		return
	}

	client := NewClient(s.hub, conn, s.deps)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response: %v", err)
	}
}

// generateAuthToken generates a random auth token
func generateAuthToken() (string, error) {
	bytes := make([]byte, authTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
