package gateway

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// firehoseBuffer is the per-client event buffer. A client that cannot
// keep up loses frames past this depth rather than stalling the bus.
const firehoseBuffer = 256

// handleEvents upgrades to a websocket and relays every bus event to
// the client until it disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "event stream disabled", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("firehose accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	events, unsub := s.bus.SubscribeChan(firehoseBuffer)
	defer unsub()

	s.logger.Debug("firehose client connected", "remote", r.RemoteAddr)

	// Reads are only consumed to detect close; clients do not send.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := ws.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readClosed:
			return
		case ev := <-events:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, ws, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
