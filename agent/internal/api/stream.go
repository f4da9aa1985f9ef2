package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pilot-net/netcheck/agent/internal/diag"
)

const streamWriteTimeout = 5 * time.Second

// handleStream upgrades to a WebSocket and pushes diag.Update messages until
// the client disconnects. The first message is the current snapshot.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// The server's WriteTimeout would otherwise cut long streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Bearer auth already ran in middleware.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	updates, unsubscribe := s.deps.Runner.Subscribe()
	defer unsubscribe()

	// CloseRead drains client frames and cancels ctx on disconnect.
	ctx := conn.CloseRead(r.Context())

	snap := s.deps.Runner.Snapshot()
	if err := writeMessage(ctx, conn, streamMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
		s.logger.Debug("websocket write error", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := writeMessage(ctx, conn, streamMessage{Type: "update", Update: &u}); err != nil {
				s.logger.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// streamMessage is one frame on the run stream.
type streamMessage struct {
	Type     string         `json:"type"` // snapshot, update
	Snapshot *diag.Snapshot `json:"snapshot,omitempty"`
	Update   *diag.Update   `json:"update,omitempty"`
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
