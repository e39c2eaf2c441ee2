package chi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/logger"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// StreamEvents handles GET /api/v1/queries/{queryID}/events. Events of a
// finished query are replayed, then the socket is closed normally.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	if _, err := s.queries.Get(r.Context(), queryID); err != nil {
		s.handleDomainError(w, err)
		return
	}
	log := logger.FromContext(r.Context()).With(zap.String("query_id", queryID))

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	events, unsubscribe := s.events.Subscribe(queryID)
	defer unsubscribe()

	// The reader only consumes control frames and notices the client leaving.
	gone := make(chan struct{})
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	sent := 0
	for {
		select {
		case e, ok := <-events:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "query finished"))
				log.Debug("event stream finished", zap.Int("events", sent))
				return
			}
			if err := ws.WriteJSON(e); err != nil {
				log.Info("event stream write failed", zap.Error(err))
				return
			}
			sent++
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug("event stream client left", zap.Int("events", sent))
			return
		case <-r.Context().Done():
			return
		}
	}
}
