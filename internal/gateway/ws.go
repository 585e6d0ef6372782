package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WS connection tuning, adapted verbatim from the teacher's ws.go (same
// cadence works for any exchange's keepalive convention): a read deadline
// just under twice the ping interval detects a silently dead socket, and
// reconnect backoff doubles from 1s up to a 30s ceiling.
const (
	wsPingInterval     = 50 * time.Second
	wsReadTimeout      = 90 * time.Second
	wsMaxReconnectWait = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsEventBufferSize  = 256
)

// wsOrderEvent is the wire shape of one push update on the user order
// channel. It reuses wireSnapshot's field vocabulary so parseSnapshot can
// be shared between the polling (Query) and push (StreamOrderUpdates)
// paths.
type wsOrderEvent struct {
	EventType string `json:"event_type"`
	wireSnapshot
}

// WSGateway adds a push-based StreamOrderUpdates to a RESTGateway by
// maintaining a long-lived authenticated WebSocket connection, adapted
// from the teacher's WSFeed: a single connection with subscription
// tracking, exponential-backoff auto-reconnect, and a periodic text PING
// to keep the connection alive through idle periods. Unlike the teacher's
// two independent market/user feeds, one connection is enough here since
// the core only needs order-lifecycle pushes, not a public order book.
type WSGateway struct {
	*RESTGateway
	url  string
	auth HMACAuth

	connMu sync.Mutex
	conn   *websocket.Conn

	events    chan OrderSnapshot
	startOnce sync.Once
	logger    *slog.Logger
}

// NewWSGateway wraps rest with a push channel dialed at wsURL.
func NewWSGateway(rest *RESTGateway, wsURL string, auth HMACAuth, logger *slog.Logger) *WSGateway {
	return &WSGateway{
		RESTGateway: rest,
		url:         wsURL,
		auth:        auth,
		events:      make(chan OrderSnapshot, wsEventBufferSize),
		logger:      logger.With("component", "gateway.ws"),
	}
}

var _ Gateway = (*WSGateway)(nil)

// StreamOrderUpdates starts the connection loop (if not already running)
// and returns the shared event channel. The loop runs until ctx is
// cancelled; callers that need independent lifecycles should wrap ctx
// accordingly.
func (g *WSGateway) StreamOrderUpdates(ctx context.Context) (<-chan OrderSnapshot, error) {
	g.startOnce.Do(func() { go g.run(ctx) })
	return g.events, nil
}

func (g *WSGateway) run(ctx context.Context) {
	defer close(g.events)
	backoff := time.Second
	for {
		err := g.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		g.logger.Warn("order feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

func (g *WSGateway) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	g.connMu.Lock()
	g.conn = conn
	g.connMu.Unlock()
	defer func() {
		g.connMu.Lock()
		conn.Close()
		g.conn = nil
		g.connMu.Unlock()
	}()

	headers, err := g.auth.Headers("GET", "/orders/stream", "")
	if err != nil {
		return fmt.Errorf("sign subscription: %w", err)
	}
	if err := g.writeJSON(map[string]any{"operation": "subscribe", "channel": "orders", "auth": headers}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	g.logger.Info("order feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go g.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		g.dispatch(msg)
	}
}

func (g *WSGateway) dispatch(data []byte) {
	var evt wsOrderEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		g.logger.Debug("ignoring non-json order feed message", "data", string(data))
		return
	}
	if evt.EventType != "order" {
		g.logger.Debug("ignoring order feed event", "type", evt.EventType)
		return
	}
	snap, err := parseSnapshot(evt.wireSnapshot)
	if err != nil {
		g.logger.Error("parse pushed order snapshot", "error", err)
		return
	}
	select {
	case g.events <- snap:
	default:
		g.logger.Warn("order feed channel full, dropping update", "exchange_id", snap.ExchangeID)
	}
}

func (g *WSGateway) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				g.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (g *WSGateway) writeJSON(v any) error {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	g.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return g.conn.WriteJSON(v)
}

func (g *WSGateway) writeMessage(msgType int, data []byte) error {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	g.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return g.conn.WriteMessage(msgType, data)
}
