package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/agent"
	"github.com/atelier-dev/atelier/internal/logger"
	"github.com/atelier-dev/atelier/internal/session"
	"github.com/atelier-dev/atelier/internal/tools"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Client represents one websocket connection. Each conversation it opens gets
// its own controller; conversations run independently.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan *WebMessage
	deps *Deps

	mu            sync.Mutex
	conversations map[string]*agent.Controller
	current       *agent.Controller
}

// NewClient creates a websocket client
func NewClient(hub *Hub, conn *websocket.Conn, deps *Deps) *Client {
	id, _ := generateClientID()
	return &Client{
		ID:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan *WebMessage, 256),
		deps:          deps,
		conversations: make(map[string]*agent.Controller),
	}
}

// ReadPump pumps messages from the websocket connection to the handler
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("websocket read error: %v", err)
			}
			break
		}

		var msg WebMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Error("failed to unmarshal message: %v", err)
			continue
		}

		if err := c.handleMessage(&msg); err != nil {
			logger.Error("failed to handle %s message: %v", msg.Type, err)
			c.sendResponse(&WebMessage{Type: MessageTypeError, Error: err.Error()})
		}
	}
}

// WritePump pumps messages to the websocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				logger.Error("failed to marshal message: %v", err)
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Error("failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *WebMessage) error {
	switch msg.Type {
	case MessageTypeChat:
		controller := c.currentController()
		go controller.ProcessMessage(context.Background(), msg.Content)
		return nil

	case MessageTypeStop:
		c.mu.Lock()
		controller := c.current
		c.mu.Unlock()
		if controller != nil {
			controller.Stop()
		}
		return nil

	case MessageTypeApprovalResponse:
		if msg.ApprovalID == "" || msg.Approved == nil {
			return fmt.Errorf("approval_response requires approval_id and approved")
		}
		go func() {
			if err := c.deps.Approvals.Resolve(context.Background(), msg.ApprovalID, *msg.Approved); err != nil {
				logger.Error("approval resume failed: %v", err)
			}
		}()
		return nil

	case MessageTypeNewChat:
		controller := c.newConversation(session.NewSession("", c.deps.Cfg.WorkspaceDir))
		c.sendResponse(&WebMessage{
			Type:      MessageTypeSessionLoaded,
			SessionID: controller.Session().ID,
		})
		return nil

	case MessageTypeLoadChat:
		sess, err := c.deps.Store.Load(msg.SessionID)
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		c.newConversation(sess)
		c.sendResponse(&WebMessage{
			Type:      MessageTypeSessionLoaded,
			SessionID: sess.ID,
			Data:      map[string]interface{}{"messages": sess.Messages(), "title": sess.Title},
		})
		return nil

	case MessageTypeDeleteChat:
		if err := c.deps.Store.Delete(msg.SessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		c.mu.Lock()
		delete(c.conversations, msg.SessionID)
		c.mu.Unlock()
		c.hub.BroadcastSessionList(c.deps.Store)
		return nil

	default:
		logger.Warn("unknown message type: %s", msg.Type)
		return nil
	}
}

// currentController returns the active conversation, creating one on demand
func (c *Client) currentController() *agent.Controller {
	c.mu.Lock()
	controller := c.current
	c.mu.Unlock()
	if controller != nil {
		return controller
	}
	return c.newConversation(session.NewSession("", c.deps.Cfg.WorkspaceDir))
}

func (c *Client) newConversation(sess *session.Session) *agent.Controller {
	emitter := &clientEmitter{client: c, sessionID: sess.ID}
	registry := tools.NewDefaultRegistry(
		c.deps.FS,
		sess,
		c.deps.Cfg.WorkspaceDir,
		time.Duration(c.deps.Cfg.CommandTimeoutSecs)*time.Second,
		c.deps.Services,
	)
	controller := agent.NewController(c.deps.Cfg, c.deps.LLM, registry, c.deps.Gate, sess, c.deps.Store, emitter)
	emitter.controller = controller

	c.mu.Lock()
	c.conversations[sess.ID] = controller
	c.current = controller
	c.mu.Unlock()
	return controller
}

func (c *Client) sendResponse(msg *WebMessage) {
	msg.Timestamp = time.Now()
	select {
	case c.send <- msg:
	default:
		logger.Warn("client send channel full, dropping %s message", msg.Type)
	}
}

// clientEmitter adapts loop events to websocket frames for one conversation
type clientEmitter struct {
	client     *Client
	controller *agent.Controller
	sessionID  string
}

func (e *clientEmitter) Content(delta string) {
	e.client.sendResponse(&WebMessage{
		Type:      MessageTypeContent,
		SessionID: e.sessionID,
		Content:   delta,
	})
}

func (e *clientEmitter) ToolCallAnnounced(name, arguments string) {
	e.client.sendResponse(&WebMessage{
		Type:      MessageTypeToolCall,
		SessionID: e.sessionID,
		ToolName:  name,
		Arguments: arguments,
	})
}

func (e *clientEmitter) ToolStepResult(name string, ok bool, message string) {
	status := "success"
	if !ok {
		status = "error"
	}
	e.client.sendResponse(&WebMessage{
		Type:      MessageTypeToolResult,
		SessionID: e.sessionID,
		ToolName:  name,
		Status:    status,
		Content:   message,
	})
}

func (e *clientEmitter) ApprovalRequired(id, command, cwd string) {
	e.client.deps.Approvals.Register(id, e.controller)

	e.client.sendResponse(&WebMessage{
		Type:       MessageTypeApprovalRequest,
		SessionID:  e.sessionID,
		ApprovalID: id,
		Command:    command,
		Cwd:        cwd,
	})
}

func (e *clientEmitter) Done(stats *session.Stats) {
	e.client.sendResponse(&WebMessage{
		Type:      MessageTypeDone,
		SessionID: e.sessionID,
		Data: map[string]interface{}{
			"lines_written":  stats.LinesWritten,
			"files_modified": stats.FilesModified,
			"files_read":     stats.FilesRead,
			"tool_calls":     stats.ToolCalls,
		},
	})
}

func (e *clientEmitter) Error(message string) {
	e.client.sendResponse(&WebMessage{
		Type:      MessageTypeError,
		SessionID: e.sessionID,
		Error:     message,
	})
}

// generateClientID generates a random client ID
func generateClientID() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
