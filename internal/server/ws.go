package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/shutter/internal/server/api"
)

// streamReadTimeout closes connections that stay silent this long.
const streamReadTimeout = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler evaluates frames sent over a WebSocket. Each binary message
// is one encoded image and gets the same JSON body the HTTP endpoint returns.
// Text messages are ignored.
type StreamHandler struct {
	evaluator api.Evaluator
	log       logrus.FieldLogger
	streams   *streamSet
}

// NewStreamHandler creates a new StreamHandler around an endpoint's evaluator.
func NewStreamHandler(e api.Evaluator, log logrus.FieldLogger) *StreamHandler {
	return &StreamHandler{
		evaluator: e,
		log:       log.WithField("endpoint", e.Endpoint()+"/ws"),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("error", err.Error()).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if h.streams != nil {
		if !h.streams.add(conn) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
		defer h.streams.remove(conn)
	}

	conn.SetReadLimit(h.evaluator.MaxUploadBytes())

	ctx := r.Context()
	log := h.log.WithField("request_id", api.RequestID(ctx))
	log.Debug("stream opened")
	defer log.Debug("stream closed")

	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithField("error", err.Error()).Warn("stream read failed")
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		_, body := h.evaluator.Evaluate(ctx, message)
		if err := conn.WriteJSON(body); err != nil {
			log.WithField("error", err.Error()).Warn("stream write failed")
			return
		}
	}
}

// streamSet tracks open stream connections so shutdown can close them and
// wait for their handlers to return.
type streamSet struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func newStreamSet() *streamSet {
	return &streamSet{conns: make(map[*websocket.Conn]struct{})}
}

// add registers conn. It reports false once closeAll has run.
func (s *streamSet) add(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *streamSet) remove(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// closeAll closes every open connection, which unblocks their readers.
// A handler busy evaluating a frame finishes it before noticing.
func (s *streamSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}

// wait blocks until every registered handler has returned or ctx is done.
func (s *streamSet) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
