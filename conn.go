package main

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// topicsRequest is the only structured inbound frame: a wholesale
// replacement of the connection's subscribed topic set.
type topicsRequest struct {
	Topics []string `json:"topics"`
}

type connection struct {
	id     string
	send   chan []byte
	w      websocketManager
	reg    *registry
	ticker *mTicker
	log    *zap.Logger
}

func newConnection(ws *websocket.Conn, reg *registry, ticker *mTicker, id string) *connection {
	return &connection{
		id:     id,
		send:   make(chan []byte, 256),
		w:      websocketInteractor{ws: ws},
		reg:    reg,
		ticker: ticker,
		log:    zap.L().With(zap.String("client_id", id)),
	}
}

// run drives the connection to termination: attach the outbound channel,
// start the writer, then read until the peer goes away. The registry
// entry is removed no matter how the read loop exits.
func (c *connection) run() {
	if err := c.reg.attach(c.id, c.send); err != nil {
		// Unregistered between upgrade and attach.
		c.log.Warn("rejecting connection", zap.Error(err))
		c.w.wsClose()
		return
	}
	incr("websockets", 1)
	defer func() {
		decr("websockets", 1)
		c.reg.remove(c.id)
	}()
	c.log.Info("client connected")
	go c.writer()
	c.reader()
	c.log.Info("client disconnected")
}

func (c *connection) reader() {
	c.w.wsSetReadLimit()
	c.w.wsSetReadDeadline()
	c.w.wsSetPongHandler()
	for {
		_, message, err := c.w.wsReadMessage()
		if err != nil {
			break
		}
		incr("conn.recv", 1)
		c.handleFrame(message)
	}
	c.w.wsClose()
}

// handleFrame interprets one inbound frame. Keepalive tokens are ignored
// and malformed frames are dropped; neither closes the connection.
func (c *connection) handleFrame(message []byte) {
	text := string(message)
	if text == "ping" || text == "ping\n" {
		return
	}
	var req topicsRequest
	if err := json.Unmarshal(message, &req); err != nil || req.Topics == nil {
		incr("conn.malformed", 1)
		c.log.Warn("dropping malformed frame", zap.ByteString("frame", message))
		return
	}
	if err := c.reg.updateTopics(c.id, req.Topics); err != nil {
		// Unregistered out from under us. The closed send channel is
		// already winding the writer down; nothing to update.
		c.log.Warn("topic update for unknown client", zap.Error(err))
	}
}

// writer forwards queued payloads to the socket in enqueue order and
// emits keepalive pings on ticks from the shared ticker. It stops when
// the send channel is closed or a write fails.
func (c *connection) writer() {
	sub := c.ticker.subscribe()
	defer c.ticker.unsubscribe(sub)
	defer c.w.wsClose()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("write failed", zap.Error(err))
				return
			}
			incr("conn.send", 1)
		case _, ok := <-sub.tick:
			if !ok {
				return
			}
			c.w.wsSetWriteDeadline()
			if err := c.w.wsWriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
