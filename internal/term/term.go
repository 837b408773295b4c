package term

import (
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	readChunkSize = 4096
)

// Handler serves interactive shell sessions over a duplex websocket. Each
// connection gets its own shell process; the agent loop is not involved.
type Handler struct {
	workspaceDir string
	shell        string
	authorize    func(r *http.Request) bool

	mu       sync.Mutex
	sessions map[*shellSession]bool
}

// NewHandler creates a terminal handler rooted at workspaceDir. authorize
// guards the upgrade; a nil func accepts every request.
func NewHandler(workspaceDir string, authorize func(r *http.Request) bool) *Handler {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Handler{
		workspaceDir: workspaceDir,
		shell:        shell,
		authorize:    authorize,
		sessions:     make(map[*shellSession]bool),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authorize != nil && !h.authorize(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("term: failed to upgrade websocket: %v", err)
		return
	}

	sess, err := h.startSession(conn)
	if err != nil {
		logger.Error("term: failed to start shell: %v", err)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("failed to start shell: "+err.Error()))
		conn.Close()
		return
	}

	go sess.run()
}

// Close terminates every active shell session
func (h *Handler) Close() {
	h.mu.Lock()
	sessions := make([]*shellSession, 0, len(h.sessions))
	for sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
	}
}

type shellSession struct {
	handler *Handler
	conn    *websocket.Conn
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	writeMu  sync.Mutex
	stopOnce sync.Once
}

func (h *Handler) startSession(conn *websocket.Conn) (*shellSession, error) {
	cmd := exec.Command(h.shell)
	cmd.Dir = h.workspaceDir
	cmd.Env = append(os.Environ(), "TERM=dumb")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	sess := &shellSession{
		handler: h,
		conn:    conn,
		cmd:     cmd,
		stdin:   stdin,
	}

	h.mu.Lock()
	h.sessions[sess] = true
	h.mu.Unlock()

	go sess.forwardOutput(stdout)
	logger.Info("term: shell session started (pid %d)", cmd.Process.Pid)
	return sess, nil
}

// run reads websocket frames into the shell's stdin until either side closes
func (s *shellSession) run() {
	defer s.stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if _, err := s.stdin.Write(data); err != nil {
			return
		}
	}
}

// forwardOutput streams combined shell output back over the websocket
func (s *shellSession) forwardOutput(stdout io.Reader) {
	defer s.stop()

	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			writeErr := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			s.writeMu.Unlock()
			if writeErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *shellSession) stop() {
	s.stopOnce.Do(func() {
		s.handler.mu.Lock()
		delete(s.handler.sessions, s)
		s.handler.mu.Unlock()

		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
		s.conn.Close()
		logger.Debug("term: shell session closed")
	})
}
