package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/scene/memscene"
)

const (
	eventBuffer = 256
	writeWait   = 5 * time.Second
)

type eventSource interface {
	Subscribe(fn func(memscene.Event)) (unsubscribe func())
}

// handleEvents streams scene change events to a websocket client. Events
// that do not fit the client's buffer are dropped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx, s.log)
	src, ok := s.deps.Scenes.Get().(eventSource)
	if !ok {
		s.fail(w, r, http.StatusNotImplemented, errors.New("scene does not publish events"))
		return
	}

	// Subscribe before the handshake so nothing emitted right after the
	// client connects is lost.
	events := make(chan memscene.Event, eventBuffer)
	unsubscribe := src.Subscribe(func(ev memscene.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.closing:
			s.closeStream(ctx, conn)
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug(ctx, "event stream write failed", logging.Err(err))
				return
			}
		}
	}
}

func (s *Server) closeStream(ctx context.Context, conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.log.Debug(ctx, "close frame not sent", logging.Err(err))
	}
}
