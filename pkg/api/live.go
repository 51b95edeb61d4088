package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/platinummonkey/tasktrax/pkg/async"
	"github.com/platinummonkey/tasktrax/pkg/auth"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/realtime"
	"github.com/platinummonkey/tasktrax/pkg/settings"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// Live message types
const (
	MessageTasks    = "tasks"
	MessageSettings = "settings"
)

// TasksMessage carries the filtered task view of the connection's user
type TasksMessage struct {
	Type    string       `json:"type"`
	Tasks   []tasks.Task `json:"tasks"`
	Loading bool         `json:"loading"`
	State   string       `json:"state"`
	Error   string       `json:"error,omitempty"`
}

// SettingsMessage carries the settings singleton
type SettingsMessage struct {
	Type     string               `json:"type"`
	Settings settings.AppSettings `json:"settings"`
	Loading  bool                 `json:"loading"`
}

func tasksMessage(v realtime.View) TasksMessage {
	msg := TasksMessage{
		Type:    MessageTasks,
		Tasks:   v.Tasks,
		Loading: v.Loading,
		State:   string(v.State),
	}
	if msg.Tasks == nil {
		msg.Tasks = []tasks.Task{}
	}
	if v.Err != nil {
		msg.Error = v.Err.Error()
	}
	return msg
}

func settingsMessage(v settings.View) SettingsMessage {
	return SettingsMessage{Type: MessageSettings, Settings: v.Settings, Loading: v.Loading}
}

// outbox keeps only the latest message per type; a slow client skips
// intermediate views instead of stalling the publishers
type outbox struct {
	mu      sync.Mutex
	order   []string
	pending map[string]interface{}
	ready   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{pending: make(map[string]interface{}), ready: make(chan struct{}, 1)}
}

func (o *outbox) put(kind string, msg interface{}) {
	o.mu.Lock()
	if _, ok := o.pending[kind]; !ok {
		o.order = append(o.order, kind)
	}
	o.pending[kind] = msg
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *outbox) drain() []interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]interface{}, 0, len(o.order))
	for _, kind := range o.order {
		out = append(out, o.pending[kind])
	}
	o.order = o.order[:0]
	o.pending = make(map[string]interface{})
	return out
}

// live streams the caller's task view and the settings over a websocket.
// Each connection follows the caller's profile document, so a role change
// or deletion takes effect without reconnecting.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		return
	}
	logger := observability.FromContext(r.Context()).WithField("user_id", user.ID)

	session := auth.NewDocumentSession(s.deps.Store, logger)
	if err := session.Start(user.ID); err != nil {
		logger.WithError(err).Warn("Failed to start live session")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	opts := realtime.Options{
		Store:           s.deps.Store,
		Auth:            session,
		Resolver:        s.deps.Resolver,
		LivenessTimeout: s.deps.LivenessTimeout,
		Logger:          logger,
		Metrics:         s.deps.Metrics,
	}
	if s.deps.Settings != nil {
		opts.Settings = s.deps.Settings
	}
	controller := realtime.NewController(opts)
	unregister := s.deps.Registry.Add(controller)

	out := newOutbox()
	stopTasks := controller.OnChange(func(v realtime.View) { out.put(MessageTasks, tasksMessage(v)) })
	stopSettings := controller.OnSettings(func(v settings.View) { out.put(MessageSettings, settingsMessage(v)) })
	controller.Start()

	s.deps.Metrics.WebsocketConnected(1)
	logger.Debug("Live connection opened")
	defer func() {
		stopTasks()
		stopSettings()
		unregister()
		controller.Close()
		session.SignOut()
		_ = conn.Close()
		s.deps.Metrics.WebsocketConnected(-1)
		logger.Debug("Live connection closed")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	readerDone := async.Go(ctx, logger, 0, "live-reader", func(context.Context) error {
		return readLoop(conn)
	})

	if err := writeLoop(ctx, conn, out, readerDone); err != nil {
		logger.WithError(err).Debug("Live connection write failed")
	}
}

// readLoop discards client messages and keeps the read deadline moving
// with pongs; it returns when the client goes away
func readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return nil
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out *outbox, readerDone <-chan struct{}) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-readerDone:
			return nil
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-out.ready:
			for _, msg := range out.drain() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					if errors.Is(err, websocket.ErrCloseSent) {
						return nil
					}
					return err
				}
			}
		}
	}
}
