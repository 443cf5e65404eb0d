package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"murmur/log"
	"murmur/status"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type statusEvent struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

func eventOf(u status.Update) statusEvent {
	return statusEvent{State: u.Status.String(), Reason: u.Reason}
}

// eventStream streams status transitions as server-sent events, starting with the
// current status.
func (s *Server) eventStream(c echo.Context) error {
	updates, cancel := s.status.Subscribe(subscriberBuf)
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(u status.Update) error {
		data, err := json.Marshal(eventOf(u))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		w.Flush()
		return nil
	}

	if err := send(s.status.Current()); err != nil {
		return nil
	}
	ctx := c.Request().Context()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(u); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		case <-s.quit:
			return nil
		}
	}
}

// statusSocket mirrors the event stream as JSON text frames.
func (s *Server) statusSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warnf("websocket upgrade: %v", err)
		return nil
	}
	defer conn.Close()

	updates, cancel := s.status.Subscribe(subscriberBuf)
	defer cancel()

	// The client never sends anything we use; reading only notices it leave.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(u status.Update) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(eventOf(u))
	}
	if err := send(s.status.Current()); err != nil {
		return nil
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(u); err != nil {
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-gone:
			return nil
		case <-s.quit:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return nil
		}
	}
}
