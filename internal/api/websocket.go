package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types on the WebSocket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelFrames carries one FrameEvent per frame that changed anything.
// Subscribers first receive a "frames.snapshot" event with every known value.
const ChannelFrames = "frames"

const (
	wsSendBufferSize = 256
	wsMaxMessageSize = 4096
	wsPingInterval   = 30 * time.Second
	wsPongWait       = 10 * time.Second
	wsReadWindow     = wsPingInterval + wsPongWait
)

// WSMessage is sent to clients.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is received from clients.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

type channelSet map[string]struct{}

// WSClient is one WebSocket connection registered with a Hub.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions channelSet
}

// The feed is local and read-only, so any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func encodeMessage(msgType, id, eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(channelSet),
	}
	s.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *WSClient) extendReadDeadline() error {
	return c.conn.SetReadDeadline(time.Now().Add(wsReadWindow))
}

// readPump owns reads and unregisters the client when the connection ends.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error { return c.extendReadDeadline() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = c.extendReadDeadline()
		c.dispatch(data)
	}
}

// writePump owns writes. It exits when send is closed or a write fails.
func (c *WSClient) writePump() {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, open := <-c.send:
			deadline := time.Now().Add(wsPongWait)
			if !open {
				bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = c.conn.WriteControl(websocket.CloseMessage, bye, deadline)
				return
			}
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsPongWait)); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.subscribe(req)
	case WSTypeUnsubscribe:
		c.unsubscribe(req)
	case WSTypePing:
		c.respond(WSTypePong, req.ID, nil)
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}

// subscribe acknowledges the request and then sends a "<channel>.snapshot"
// event for each channel that has a snapshot source.
func (c *WSClient) subscribe(req wsRequest) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil || len(p.Channels) == 0 {
		c.fail(req.ID, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()
	c.respond(WSTypeResponse, req.ID, map[string]any{"subscribed": p.Channels})

	for _, ch := range p.Channels {
		fn := c.hub.snapshot(ch)
		if fn == nil {
			continue
		}
		if data, err := encodeMessage(WSTypeEvent, "", ch+".snapshot", fn()); err == nil {
			c.hub.reply(c, data)
		}
	}
}

func (c *WSClient) unsubscribe(req wsRequest) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.fail(req.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()
	c.respond(WSTypeResponse, req.ID, map[string]any{"unsubscribed": p.Channels})
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) respond(msgType, id string, payload any) {
	if data, err := encodeMessage(msgType, id, "", payload); err == nil {
		c.hub.reply(c, data)
	}
}

func (c *WSClient) fail(id, message string) {
	c.respond(WSTypeError, id, map[string]string{"message": message})
}
