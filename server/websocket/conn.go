// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/relaymq/relay"
	"github.com/absmach/relaymq/storage"
	"github.com/gorilla/websocket"
)

// Inbound frame actions.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPublish     = "publish"
	actionPing        = "ping"
)

// Outbound frame types.
const (
	typeMessage = "message"
	typeAck     = "ack"
	typeError   = "error"
	typePong    = "pong"
)

const (
	writeTimeout = 10 * time.Second

	// Slack added to the read limit so frame fields fit around the payload.
	readLimitOverhead = 1024
)

var errQueueFull = errors.New("outbound queue full")

// inboundFrame is a client request. Payload is base64-encoded in JSON.
type inboundFrame struct {
	Action  string `json:"action"`
	Topic   string `json:"topic,omitempty"`
	Filter  string `json:"filter,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	QoS     byte   `json:"qos,omitempty"`
	Retain  bool   `json:"retain,omitempty"`
}

// outboundFrame is a server response or delivered message.
type outboundFrame struct {
	Type      string     `json:"type"`
	Action    string     `json:"action,omitempty"`
	Topic     string     `json:"topic,omitempty"`
	Filter    string     `json:"filter,omitempty"`
	Payload   []byte     `json:"payload,omitempty"`
	QoS       byte       `json:"qos,omitempty"`
	Retain    bool       `json:"retain,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// wsSink buffers messages for the write pump. Deliver never blocks: when the
// buffer is full the message is dropped and the dispatcher counts the failure.
type wsSink struct {
	ch chan *storage.Message
}

func newWSSink(size int) *wsSink {
	return &wsSink{ch: make(chan *storage.Message, size)}
}

func (s *wsSink) Deliver(msg *storage.Message) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return errQueueFull
	}
}

// conn is a single WebSocket client connection.
type conn struct {
	server     *Server
	ws         *websocket.Conn
	clientID   string
	remoteAddr string
	sink       *wsSink
	respCh     chan outboundFrame
	done       chan struct{}
	closeOnce  sync.Once
}

func newConn(s *Server, ws *websocket.Conn, clientID, remoteAddr string) *conn {
	return &conn{
		server:     s,
		ws:         ws,
		clientID:   clientID,
		remoteAddr: remoteAddr,
		sink:       newWSSink(s.config.QueueSize),
		respCh:     make(chan outboundFrame, 16),
		done:       make(chan struct{}),
	}
}

// serve registers the client and runs the read loop until the connection
// drops. The write pump runs alongside and is stopped on the way out.
func (c *conn) serve() {
	if err := c.server.relay.RegisterClient(c.clientID, c.sink); err != nil {
		c.server.logger.Warn("websocket_register_failed",
			slog.String("client_id", c.clientID),
			slog.String("error", err.Error()))
		c.ws.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		// Release the registration unless a newer connection took over the id.
		if cl, ok := c.server.relay.Registry().Get(c.clientID); ok && cl.Sink() == relay.Sink(c.sink) {
			c.server.relay.UnregisterClient(c.clientID)
		}
		if c.server.limiter != nil {
			c.server.limiter.OnClientDisconnect(c.clientID)
		}
		c.close()
	}()

	c.ws.SetReadLimit(int64(c.server.config.MaxMessageSize + readLimitOverhead))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Debug("websocket_read_error",
					slog.String("client_id", c.clientID),
					slog.String("error", err.Error()))
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *conn) handleFrame(data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.respond(outboundFrame{Type: typeError, Error: "malformed frame"})
		return
	}

	ctx := context.Background()
	// Any well-formed frame counts as client activity.
	c.server.relay.Registry().Touch(c.clientID)

	switch f.Action {
	case actionSubscribe:
		if c.server.limiter != nil && !c.server.limiter.AllowSubscription(c.clientID, c.subscriptionCount()) {
			c.respond(outboundFrame{Type: typeError, Action: f.Action, Filter: f.Filter, Error: "subscription limit exceeded"})
			return
		}
		ok, err := c.server.relay.Subscribe(ctx, c.clientID, f.Filter)
		if err != nil {
			c.respond(outboundFrame{Type: typeError, Action: f.Action, Filter: f.Filter, Error: err.Error()})
			return
		}
		if !ok {
			c.respond(outboundFrame{Type: typeError, Action: f.Action, Filter: f.Filter, Error: "client not registered"})
			return
		}
		c.respond(outboundFrame{Type: typeAck, Action: f.Action, Filter: f.Filter})

	case actionUnsubscribe:
		if _, err := c.server.relay.Unsubscribe(ctx, c.clientID, f.Filter); err != nil {
			c.respond(outboundFrame{Type: typeError, Action: f.Action, Filter: f.Filter, Error: err.Error()})
			return
		}
		c.respond(outboundFrame{Type: typeAck, Action: f.Action, Filter: f.Filter})

	case actionPublish:
		if c.server.limiter != nil && !c.server.limiter.AllowPublish(c.clientID) {
			c.respond(outboundFrame{Type: typeError, Action: f.Action, Topic: f.Topic, Error: "publish rate limit exceeded"})
			return
		}
		if f.QoS > 2 {
			c.respond(outboundFrame{Type: typeError, Action: f.Action, Topic: f.Topic, Error: "qos must be 0, 1 or 2"})
			return
		}
		if len(f.Payload) > c.server.config.MaxMessageSize {
			c.respond(outboundFrame{Type: typeError, Action: f.Action, Topic: f.Topic, Error: "message too large"})
			return
		}
		msg := &storage.Message{
			Topic:   f.Topic,
			Payload: f.Payload,
			QoS:     f.QoS,
			Retain:  f.Retain,
		}
		if err := c.server.relay.Publish(ctx, c.clientID, msg); err != nil {
			c.respond(outboundFrame{Type: typeError, Action: f.Action, Topic: f.Topic, Error: err.Error()})
			return
		}
		c.respond(outboundFrame{Type: typeAck, Action: f.Action, Topic: f.Topic})

	case actionPing:
		c.respond(outboundFrame{Type: typePong})

	default:
		c.respond(outboundFrame{Type: typeError, Error: fmt.Sprintf("unknown action: %q", f.Action)})
	}
}

// writePump is the single writer on the WebSocket connection. It forwards
// delivered messages and request responses until the connection closes.
func (c *conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sink.ch:
			ts := msg.Timestamp
			frame := outboundFrame{
				Type:      typeMessage,
				Topic:     msg.Topic,
				Payload:   msg.Payload,
				QoS:       msg.QoS,
				Retain:    msg.Retain,
				Timestamp: &ts,
			}
			if err := c.write(frame); err != nil {
				c.close()
				return
			}
		case frame := <-c.respCh:
			if err := c.write(frame); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *conn) write(frame outboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) respond(frame outboundFrame) {
	select {
	case c.respCh <- frame:
	case <-c.done:
	}
}

func (c *conn) subscriptionCount() int {
	if cl, ok := c.server.relay.Registry().Get(c.clientID); ok {
		return len(cl.Filters())
	}
	return 0
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
