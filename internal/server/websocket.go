package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/livetemplate/markpad"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

const writeWait = 10 * time.Second

// Message actions.
const (
	ActionToggle  = "toggle"  // client: preview checkbox changed
	ActionInput   = "input"   // client: key released in the editor
	ActionSession = "session" // server: session id, sent once on connect
	ActionPane    = "pane"    // server: show or hide the preview pane
	ActionPreview = "preview" // server: replace the preview document body
	ActionError   = "error"   // server: a handler failed
	ActionReload  = "reload"  // server: static files changed
)

// ClientMessage is a message from the editor page.
type ClientMessage struct {
	Action  string  `json:"action"`
	Checked bool    `json:"checked,omitempty"`
	Text    *string `json:"text,omitempty"`
}

// ServerMessage is a message to the editor page.
type ServerMessage struct {
	Action   string  `json:"action"`
	Session  string  `json:"session,omitempty"`
	Visible  *bool   `json:"visible,omitempty"`
	HTML     *string `json:"html,omitempty"`
	Error    string  `json:"error,omitempty"`
	FilePath string  `json:"filePath,omitempty"`
}

// Session is one connected editor page. It is both the Surface and the EventSource of
// the preview controller serving that page: client messages become UI events, and the
// controller's writes become server messages.
type Session struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla connections support one concurrent writer
	debug   bool

	mu      sync.Mutex
	text    string
	content string

	onToggle func(bool)
	onKeyUp  func()
}

func newSession(conn *websocket.Conn, debug bool) *Session {
	return &Session{
		id:       uuid.NewString(),
		conn:     conn,
		debug:    debug,
		onToggle: func(bool) {},
		onKeyUp:  func() {},
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// SetPaneVisible implements markpad.Surface.
func (s *Session) SetPaneVisible(visible bool) {
	if err := s.send(ServerMessage{Action: ActionPane, Visible: &visible}); err != nil {
		log.Printf("[WS] Session %s: failed to send pane state: %v", s.id, err)
	}
}

// SourceText implements markpad.Surface. It is the text of the last message that carried one.
func (s *Session) SourceText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// SetPreviewContent implements markpad.Surface.
func (s *Session) SetPreviewContent(html string) string {
	s.mu.Lock()
	prev := s.content
	s.content = html
	s.mu.Unlock()

	if err := s.send(ServerMessage{Action: ActionPreview, HTML: &html}); err != nil {
		log.Printf("[WS] Session %s: failed to send preview: %v", s.id, err)
	}
	return prev
}

// OnToggle implements markpad.EventSource.
func (s *Session) OnToggle(fn func(checked bool)) {
	s.onToggle = fn
}

// OnKeyUp implements markpad.EventSource.
func (s *Session) OnKeyUp(fn func()) {
	s.onKeyUp = fn
}

func (s *Session) sendError(err error) {
	if sendErr := s.send(ServerMessage{Action: ActionError, Error: err.Error()}); sendErr != nil {
		log.Printf("[WS] Session %s: failed to send error: %v", s.id, sendErr)
	}
}

// send writes one message. It is safe for concurrent use.
func (s *Session) send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	if s.debug {
		log.Printf("[WS] Sent: %s", data)
	}
	return nil
}

// handleMessage turns a client message into the matching UI event.
func (s *Session) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("[WS] Failed to parse message: %v", err)
		s.sendError(fmt.Errorf("invalid message: %w", err))
		return
	}

	if msg.Action != ActionToggle && msg.Action != ActionInput {
		log.Printf("[WS] Unknown action: %s", msg.Action)
		s.sendError(fmt.Errorf("unknown action %q", msg.Action))
		return
	}

	// Pastes and drops change the field without a key release, so any event
	// may carry a newer copy of the text.
	if msg.Text != nil {
		s.mu.Lock()
		s.text = *msg.Text
		s.mu.Unlock()
	}

	switch msg.Action {
	case ActionToggle:
		s.onToggle(msg.Checked)
	case ActionInput:
		s.onKeyUp()
	}
}

// run reads messages until the connection closes. Events are handled in arrival order.
func (s *Session) run() {
	s.conn.SetReadLimit(maxRequestBodySize)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WS] Unexpected close: %v", err)
			}
			return
		}

		if s.debug {
			log.Printf("[WS] Received: %s", message)
		}

		s.handleMessage(message)
	}
}

// serveWebSocket upgrades the request and runs a preview controller for the page.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Failed to upgrade connection: %v", err)
		return
	}

	debug := s.config.Server.Debug
	sess := newSession(conn, debug)
	defer func() {
		s.UnregisterConnection(sess)
		conn.Close()
	}()

	ctrl, err := markpad.New(sess, s.renderer, markpad.WithDebug(debug))
	if err != nil {
		log.Printf("[WS] Failed to create preview controller: %v", err)
		return
	}
	markpad.Bind(sess, ctrl, markpad.WithErrorHandler(func(err error) {
		log.Printf("[Preview] Session %s: %v", sess.ID(), err)
		sess.sendError(err)
	}))

	s.RegisterConnection(sess)

	if debug {
		log.Printf("[WS] Client connected: %s", conn.RemoteAddr())
	}

	if err := sess.send(ServerMessage{Action: ActionSession, Session: sess.ID()}); err != nil {
		log.Printf("[WS] Failed to send session id: %v", err)
		return
	}

	sess.run()

	if debug {
		log.Printf("[WS] Client disconnected: %s (%d renders)", conn.RemoteAddr(), ctrl.Renders())
	}
}
