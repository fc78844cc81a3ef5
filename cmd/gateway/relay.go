package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/crossknight/examples/pkg/callback"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Envelope is the wire format pushed to the realtime client.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Relay holds the single realtime client connection. A new connection
// replaces the previous one wholesale; sends with no connection attached are
// silent no-ops.
type Relay struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (r *Relay) Attach(conn *websocket.Conn) {
	r.mu.Lock()
	prev := r.conn
	r.conn = conn
	r.mu.Unlock()
	if prev != nil {
		_ = prev.Close(websocket.StatusPolicyViolation, "replaced by new connection")
	}
}

// Detach clears the slot if conn still owns it.
func (r *Relay) Detach(conn *websocket.Conn) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
}

// Send forwards one envelope to the attached client and reports whether a
// write happened. A failed write detaches the connection.
func (r *Relay) Send(ctx context.Context, event string, data interface{}) bool {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return false
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, Envelope{Event: event, Data: data}); err != nil {
		log.Printf("gateway: realtime write failed: %v", err)
		r.Detach(conn)
		_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
		return false
	}
	return true
}

// relayCallbackEvent is the realtime relay's bus subscription: every event
// except unrecognized ones goes to the client verbatim.
func (s *Server) relayCallbackEvent(evt callback.Event) {
	if evt.Kind == callback.KindUnknown {
		return
	}
	s.countRelay(s.Relay.Send(context.Background(), "message", json.RawMessage(evt.Payload)))
}

func (s *Server) countRelay(sent bool) {
	if sent {
		s.Metrics.IncRelay("forwarded")
	} else {
		s.Metrics.IncRelay("dropped")
	}
}

// serveRealtime upgrades the request to a websocket and parks it in the
// relay slot until the client goes away or a newer connection replaces it.
func (s *Server) serveRealtime(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	s.Relay.Attach(conn)
	ctx := r.Context()
	_ = wsjson.Write(ctx, conn, Envelope{Event: "ready"})
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	s.Relay.Detach(conn)
	_ = conn.Close(websocket.StatusNormalClosure, "closed")
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
