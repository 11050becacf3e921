package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/agentmarket/pricewatch/internal/modules/accounts"
)

const (
	// authWindow bounds how long a fresh connection may sit unauthenticated.
	authWindow = 10 * time.Second

	writeTimeout = 5 * time.Second
)

// inbound is a client-to-server frame.
type inbound struct {
	Type    string `json:"type"`
	AgentID int    `json:"agentId"`
	APIKey  string `json:"apiKey"`
}

// outbound is a server-to-client frame.
type outbound struct {
	Type      string      `json:"type"`
	AgentID   int         `json:"agentId,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Gateway accepts WebSocket connections, authenticates them against
// stored API keys, and pushes alert payloads to connected agents. One
// live connection per agent; a re-auth replaces the previous one.
type Gateway struct {
	accounts *accounts.Repository
	log      zerolog.Logger

	mu    sync.RWMutex
	conns map[int]*websocket.Conn
}

// NewGateway creates a new push gateway
func NewGateway(accounts *accounts.Repository, log zerolog.Logger) *Gateway {
	return &Gateway{
		accounts: accounts,
		log:      log.With().Str("component", "ws-gateway").Logger(),
		conns:    make(map[int]*websocket.Conn),
	}
}

// ServeHTTP upgrades the request and runs the connection until the
// client disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}

	agentID, err := g.authenticate(r.Context(), conn)
	if err != nil {
		g.log.Debug().Err(err).Msg("WebSocket auth rejected")
		g.writeJSON(r.Context(), conn, outbound{Type: "error", Message: "authentication failed"})
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	g.register(agentID, conn)
	defer g.unregister(agentID, conn)

	welcome := outbound{
		Type:    "connected",
		AgentID: agentID,
		Message: "subscribed to price alerts",
	}
	if err := g.writeJSON(r.Context(), conn, welcome); err != nil {
		return
	}

	g.log.Info().Int("agent_id", agentID).Msg("WebSocket client connected")
	g.readLoop(r.Context(), agentID, conn)
}

// authenticate waits for the first frame, which must be a valid auth
// message, within the auth window.
func (g *Gateway) authenticate(ctx context.Context, conn *websocket.Conn) (int, error) {
	authCtx, cancel := context.WithTimeout(ctx, authWindow)
	defer cancel()

	_, data, err := conn.Read(authCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to read auth frame: %w", err)
	}

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, fmt.Errorf("failed to parse auth frame: %w", err)
	}
	if msg.Type != "auth" {
		return 0, fmt.Errorf("expected auth frame, got %q", msg.Type)
	}

	agent, err := g.accounts.GetByAPIKey(msg.APIKey)
	if err != nil {
		return 0, err
	}
	if agent == nil || agent.ID != msg.AgentID {
		return 0, fmt.Errorf("invalid credentials for agent %d", msg.AgentID)
	}

	return agent.ID, nil
}

// readLoop drains client frames until the connection drops. Only ping
// frames get a reply.
func (g *Gateway) readLoop(ctx context.Context, agentID int, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			g.log.Debug().Int("agent_id", agentID).Msg("WebSocket client disconnected")
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			g.log.Debug().Int("agent_id", agentID).Msg("Ignoring unparseable WebSocket frame")
			continue
		}
		switch msg.Type {
		case "ping":
			pong := outbound{
				Type:      "pong",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}
			if err := g.writeJSON(ctx, conn, pong); err != nil {
				return
			}
		default:
			g.log.Debug().Int("agent_id", agentID).Str("type", msg.Type).Msg("Ignoring unknown WebSocket frame type")
		}
	}
}

// BroadcastAlert pushes a payload to one agent's connection. Returns
// false when the agent is not connected or the write failed.
func (g *Gateway) BroadcastAlert(agentID int, payload interface{}) bool {
	g.mu.RLock()
	conn := g.conns[agentID]
	g.mu.RUnlock()

	if conn == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := g.writeJSON(ctx, conn, outbound{Type: "price_alert", Data: payload}); err != nil {
		g.log.Warn().Err(err).Int("agent_id", agentID).Msg("WebSocket push failed, dropping connection")
		// The connection is dead; keeping it registered would shadow a
		// future reconnect.
		g.unregister(agentID, conn)
		conn.Close(websocket.StatusInternalError, "write failed")
		return false
	}
	return true
}

// ConnectedCount reports how many agents hold a live connection.
func (g *Gateway) ConnectedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// CloseAll tears down every connection, used on shutdown.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	conns := g.conns
	g.conns = make(map[int]*websocket.Conn)
	g.mu.Unlock()

	for agentID, conn := range conns {
		if err := conn.Close(websocket.StatusGoingAway, "server shutdown"); err != nil {
			g.log.Debug().Err(err).Int("agent_id", agentID).Msg("WebSocket close failed")
		}
	}
}

func (g *Gateway) register(agentID int, conn *websocket.Conn) {
	g.mu.Lock()
	old := g.conns[agentID]
	g.conns[agentID] = conn
	g.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
	}
}

// unregister drops the mapping only if it still points at this
// connection; a replacement must not be evicted by the old goroutine.
func (g *Gateway) unregister(agentID int, conn *websocket.Conn) {
	g.mu.Lock()
	if g.conns[agentID] == conn {
		delete(g.conns, agentID)
	}
	g.mu.Unlock()
}

func (g *Gateway) writeJSON(ctx context.Context, conn *websocket.Conn, msg outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
