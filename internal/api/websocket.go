package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"gpmonitor/internal/logger"
	"gpmonitor/internal/platform"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Bearer token auth, no cookies
	},
}

// ServiceLookup resolves a requested name against the allow-list.
type ServiceLookup interface {
	Resolve(name string) (string, error)
}

// LogStreamer tails the journal of allow-listed services over WebSocket.
type LogStreamer struct {
	services ServiceLookup
	journal  platform.JournalFollower
}

// NewLogStreamer creates a new log streamer
func NewLogStreamer(services ServiceLookup, journal platform.JournalFollower) *LogStreamer {
	return &LogStreamer{services: services, journal: journal}
}

// HandleLogStream resolves the service before upgrading, so a denied name
// gets the same 404 as the control endpoints.
func (ls *LogStreamer) HandleLogStream(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFrom(r.Context())

	unit, err := ls.services.Resolve(chi.URLParam(r, "service"))
	if err != nil {
		controlError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "request_id", requestID, "service", unit, "error", err)
		return
	}
	defer conn.Close()

	logger.Info("log stream opened", "request_id", requestID, "service", unit, "ip", clientIP(r))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go ls.drain(conn, cancel)

	lines, err := ls.journal.Follow(ctx, unit)
	if err != nil {
		logger.Error("journal follow failed", "request_id", requestID, "service", unit, "error", err)
		send(conn, websocket.TextMessage, []byte("Error: failed to start log stream"))
		return
	}

	if err := send(conn, websocket.TextMessage, []byte("--- Connected to log stream for "+unit+" ---")); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("log stream closed by client", "request_id", requestID, "service", unit)
			return
		case <-ping.C:
			if err := send(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case line, ok := <-lines:
			if !ok {
				logger.Debug("journal ended", "request_id", requestID, "service", unit)
				send(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			if err := send(conn, websocket.TextMessage, []byte(line)); err != nil {
				logger.Debug("log stream write failed", "request_id", requestID, "service", unit, "error", err)
				return
			}
		}
	}
}

// drain reads control frames until the peer goes away or stops answering
// pings, then cancels the stream.
func (ls *LogStreamer) drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// send writes one frame. Only the streaming goroutine writes.
func send(conn *websocket.Conn, messageType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(messageType, data)
}
