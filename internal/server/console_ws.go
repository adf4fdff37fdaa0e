package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// subscriberQueue bounds how far a websocket client may fall behind the
// console stream before it is dropped.
const subscriberQueue = 256

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth runs before the upgrade; the origin carries no signal
	// for a non-browser management API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleConsoleWS streams console lines over a websocket. On connect the
// client receives the buffered history, then every new line as it is
// appended. Text messages received from the client are forwarded to the
// server's stdin as commands. A client that cannot keep up is
// disconnected rather than allowed to stall the producer.
func (r *Router) handleConsoleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	queue := make(chan string, subscriberQueue)
	sub := r.mgr.SubscribeConsole(func(line string) error {
		select {
		case queue <- line:
			return nil
		default:
			return errors.New("console subscriber too slow")
		}
	})
	defer r.mgr.UnsubscribeConsole(sub)

	for _, line := range r.mgr.Console(0) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}

	// reader: client commands in, and connection-close detection
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			cmd := strings.TrimSpace(string(msg))
			if cmd == "" {
				continue
			}
			if !r.mgr.SendCommand(cmd) {
				slog.Debug("websocket command dropped, server not running")
			}
		}
	}()

	for {
		select {
		case line := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
