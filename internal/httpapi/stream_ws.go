package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/book-expert/narration-service/internal/core"
)

const streamRequestReadTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStreamNarration upgrades the connection, reads one request frame, and
// pushes one JSON event per pipeline transition: start, one chunk per index
// in increasing order, then a terminal complete or error.
func (r *Router) handleStreamNarration(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Error("Stream upgrade failed: %v", err)

		return
	}
	defer func() { _ = conn.Close() }()

	body, ok := r.readStreamRequest(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.jobTimeout)
	defer cancel()

	events, err := r.narrator.Stream(ctx, body.toCore())
	if err != nil {
		r.log.Warn("Stream request rejected: %v", err)
		_ = conn.WriteJSON(core.NewStreamError(err.Error()))

		return
	}

	// Cancel synthesis as soon as the client goes away.
	go func() {
		for {
			_, _, readErr := conn.NextReader()
			if readErr != nil {
				cancel()

				return
			}
		}
	}()

	for event := range events {
		writeErr := conn.WriteJSON(event)
		if writeErr != nil {
			r.log.Warn("Stream write failed, canceling narration: %v", writeErr)
			cancel()

			return
		}
	}

	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
}

// readStreamRequest reads the single request frame the client must send
// before any events flow. A missing or malformed frame produces a terminal
// error event.
func (r *Router) readStreamRequest(conn *websocket.Conn) (narrationRequest, bool) {
	var body narrationRequest

	_ = conn.SetReadDeadline(time.Now().Add(streamRequestReadTimeout))

	err := conn.ReadJSON(&body)
	if err != nil {
		r.log.Warn("Stream request frame invalid: %v", err)
		_ = conn.WriteJSON(core.NewStreamError("invalid request frame"))

		return body, false
	}

	_ = conn.SetReadDeadline(time.Time{})

	return body, true
}
