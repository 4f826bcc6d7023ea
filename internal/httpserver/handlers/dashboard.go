package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/dashboard"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/utils"
)

const (
	maxClientMessage = 64 << 10
	actionTimeout    = 15 * time.Second
	defaultInFlight  = 8
)

// clientMessage is what the browser sends on the dashboard socket.
type clientMessage struct {
	Type  string `json:"type"` // draft | submit | create | delete | logout | refresh
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	ID    string `json:"id,omitempty"`
}

// serverMessage is what the dashboard socket sends back.
type serverMessage struct {
	Type    string              `json:"type"` // state | navigate | error
	State   *dashboard.Snapshot `json:"state,omitempty"`
	To      string              `json:"to,omitempty"`
	Message string              `json:"message,omitempty"`
}

// Dashboard upgrades to a websocket and runs one dashboard view for the
// lifetime of the connection.
func Dashboard(d deps.Deps) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	if d.WSPingInterval <= 0 {
		d.WSPingInterval = 30 * time.Second
	}
	if d.WSWriteTimeout <= 0 {
		d.WSWriteTimeout = 10 * time.Second
	}
	if d.WSMaxInFlight <= 0 {
		d.WSMaxInFlight = defaultInFlight
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			d.Logger.Debug("websocket upgrade failed", logger.Error(err))
			return
		}
		defer utils.Close(ws)

		c := &dashboardConn{
			d:       d,
			ws:      ws,
			name:    middleware.GetReqID(r.Context()),
			changed: make(chan struct{}, 1),
			out:     make(chan serverMessage, 8),
			slots:   make(chan struct{}, d.WSMaxInFlight),
		}
		c.view = dashboard.New(d.Issuer.Session(auth.TokenFromRequest(r)), d.Backend, d.Backend, d.Logger, dashboard.Options{
			Reconciliation: d.Reconciliation,
			PublicEntry:    d.PublicEntry,
			Name:           c.name,
		})
		c.run(r.Context())
	}
}

type dashboardConn struct {
	d    deps.Deps
	ws   *websocket.Conn
	view *dashboard.View
	name string

	changed chan struct{} // coalesced state notifications
	out     chan serverMessage
	slots   chan struct{} // one per remote call in flight
}

func (c *dashboardConn) run(ctx context.Context) {
	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()

	if c.d.Views != nil {
		c.d.Views.Add(1)
		defer c.d.Views.Add(-1)
	}
	defer c.view.Deactivate()

	c.view.OnChange(c.signal)

	go c.write(handleCtx, handleCancel)

	go func() {
		if err := c.view.Activate(handleCtx); err != nil && !errors.Is(err, dashboard.ErrClosed) {
			c.d.Logger.Warn("dashboard activation failed",
				logger.String("view", c.name),
				logger.Error(err))
		}
		// Always push the first state, even when activation changed nothing.
		c.signal()
	}()

	c.read(handleCtx, handleCancel)
}

func (c *dashboardConn) signal() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *dashboardConn) pongWait() time.Duration {
	return 2*c.d.WSPingInterval + c.d.WSWriteTimeout
}

// read runs on the handler goroutine until the connection fails.
func (c *dashboardConn) read(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	c.ws.SetReadLimit(maxClientMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.d.Logger.Debug("dashboard socket closed",
					logger.String("view", c.name),
					logger.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))

		if messageType != websocket.TextMessage {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.fail(ctx, "invalid message")
			continue
		}
		if !c.handle(ctx, msg) {
			return
		}
	}
}

// handle applies the local half of msg on the read goroutine, so actions take
// effect in the order the client sent them. Remote halves run in the
// background, at most cap(c.slots) at a time. It returns false once ctx is done.
func (c *dashboardConn) handle(ctx context.Context, msg clientMessage) bool {
	switch msg.Type {
	case "draft":
		c.view.SetDraft(msg.URL, msg.Title)
		return true
	case "submit", "create", "delete", "refresh", "logout":
	default:
		c.d.Logger.Debug("unknown dashboard message",
			logger.String("view", c.name),
			logger.String("type", msg.Type))
		c.fail(ctx, "unknown message type")
		return true
	}

	// Waiting for a slot stops the reads, which pushes back on the client.
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	var (
		done       dashboard.Completion
		navigateTo string
		err        error
	)
	switch msg.Type {
	case "submit":
		done, err = c.view.BeginSubmit()
	case "create":
		done, err = c.view.BeginCreate(msg.URL, msg.Title)
	case "delete":
		done, err = c.view.BeginDelete(msg.ID)
	case "refresh":
		done, err = c.view.BeginRefresh()
	case "logout":
		navigateTo, done = c.view.BeginLogout()
	}
	if err != nil {
		<-c.slots
		c.fail(ctx, err.Error())
		return true
	}

	go c.complete(ctx, done, navigateTo)
	return true
}

func (c *dashboardConn) complete(ctx context.Context, done dashboard.Completion, navigateTo string) {
	defer func() { <-c.slots }()

	// Writes outlive the socket: a delete sent right before the tab closes
	// still reaches the store. The view ignores the late completion.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), actionTimeout)
	defer cancel()

	if err := done(actx); err != nil && !errors.Is(err, dashboard.ErrClosed) {
		c.fail(ctx, err.Error())
	}
	if navigateTo != "" {
		c.send(ctx, serverMessage{Type: "navigate", To: navigateTo})
	}
}

// fail reports an error to the client. Reference reconciliation stays
// silent: failures are only logged.
func (c *dashboardConn) fail(ctx context.Context, message string) {
	if c.d.Reconciliation != dashboard.ReconcileStrict {
		return
	}
	c.send(ctx, serverMessage{Type: "error", Message: message})
}

func (c *dashboardConn) send(ctx context.Context, msg serverMessage) {
	select {
	case c.out <- msg:
	case <-ctx.Done():
	}
}

// write owns every write to the socket. Closing the socket on exit unblocks
// the reader.
func (c *dashboardConn) write(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		_ = c.ws.Close()
	}()

	ping := time.NewTicker(c.d.WSPingInterval)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(c.d.WSWriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			return

		case <-c.changed:
			s := c.view.Snapshot()
			err = c.writeJSON(serverMessage{Type: "state", State: &s})

		case msg := <-c.out:
			err = c.writeJSON(msg)

		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.d.WSWriteTimeout))
			err = c.ws.WriteMessage(websocket.PingMessage, nil)
		}

		if err != nil {
			// A websocket write deadline cannot be recovered.
			c.d.Logger.Debug("dashboard socket write failed",
				logger.String("view", c.name),
				logger.Error(err))
			return
		}
	}
}

func (c *dashboardConn) writeJSON(msg serverMessage) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.d.WSWriteTimeout))
	return c.ws.WriteJSON(msg)
}
