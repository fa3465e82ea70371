package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dotcommander/loom/internal/core"
)

const writeTimeout = 10 * time.Second

// stream upgrades to a WebSocket and forwards the story's live events until
// the client disconnects.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedStory(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "story_id", rec.ID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The client never sends application data; CloseRead surfaces the
	// disconnect through ctx.
	ctx := conn.CloseRead(r.Context())

	events, cancel := s.broker.Subscribe(rec.ID)
	defer cancel()

	greeting := core.Event{
		Type:      "connection_established",
		Content:   "Connected to story stream",
		StoryID:   rec.ID,
		Timestamp: time.Now().UTC(),
	}
	greetCtx, cancelGreet := context.WithTimeout(ctx, writeTimeout)
	err = wsjson.Write(greetCtx, conn, greeting)
	cancelGreet()
	if err != nil {
		return
	}

	s.logger.Info("stream opened", "story_id", rec.ID)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancelWrite()
			if err != nil {
				s.logger.Info("stream closed", "story_id", rec.ID, "error", err)
				return
			}
		}
	}
}
