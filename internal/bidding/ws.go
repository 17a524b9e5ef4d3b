package bidding

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openlot/auction-engine/internal/ledger"
	"github.com/openlot/auction-engine/internal/metrics"
	"github.com/openlot/auction-engine/internal/model"
)

// wsMessage is the JSON frame sent to WebSocket clients: a snapshot first,
// then one frame per committed event in commit order.
type wsMessage struct {
	Type     string       `json:"type"` // "snapshot" or the event type
	Snapshot *Snapshot    `json:"snapshot,omitempty"`
	Event    *model.Event `json:"event,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws?auction_id=...
// The client receives the auction snapshot, then incremental events. On any
// write failure or slow-consumer drop the connection closes; clients recover
// by reconnecting, which replays state through a fresh snapshot.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	auctionID := r.URL.Query().Get("auction_id")
	if auctionID == "" {
		writeError(w, "auction_id query parameter is required", http.StatusBadRequest)
		return
	}

	sub, err := s.hub.Subscribe(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, "auction not found", http.StatusNotFound)
		} else {
			writeError(w, "subscription failed", http.StatusInternalServerError)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Unsubscribe(sub)
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	metrics.WebSocketClients.Inc()

	// Read pump: keep connection alive and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			s.hub.Unsubscribe(sub)
			conn.Close()
			metrics.WebSocketClients.Dec()
		}()

		if err := writeWS(conn, wsMessage{Type: "snapshot", Snapshot: &sub.Snapshot}); err != nil {
			return
		}

		// Ping ticker to keep the connection alive through proxies.
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				if err := writeWS(conn, wsMessage{Type: string(ev.Type), Event: &ev}); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}

func writeWS(conn *websocket.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
