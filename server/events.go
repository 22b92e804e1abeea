package server

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/lib-x/facetrack"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

type subscriber struct {
	send chan []byte
}

// hub fans feed results out to the websocket subscribers of each tracker.
// A slow subscriber loses messages instead of stalling FeedFrame.
type hub struct {
	mu     sync.Mutex
	topics map[uint64]map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{topics: make(map[uint64]map[*subscriber]struct{})}
}

func (h *hub) subscribe(topic uint64) *subscriber {
	sub := &subscriber{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

func (h *hub) unsubscribe(topic uint64, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

func (h *hub) publish(topic uint64, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.topics[topic] {
		select {
		case sub.send <- msg:
		default:
		}
	}
}

func (h *hub) subscribers(topic uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// closeTopic disconnects everyone listening to a freed tracker.
func (h *hub) closeTopic(topic uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.topics[topic] {
		close(sub.send)
	}
	delete(h.topics, topic)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		for sub := range subs {
			close(sub.send)
		}
		delete(h.topics, topic)
	}
}

// streamEvents pushes every FeedResult of the tracker as a JSON text
// message until the client goes away or the tracker is freed.
func (s *Server) streamEvents(c *websocket.Conn) {
	v, err := strconv.ParseUint(c.Params("h"), 10, 64)
	if err != nil {
		c.WriteMessage(websocket.CloseMessage, []byte{})
		return
	}
	if _, err := s.registry.Tracker(facetrack.HandleFromUint64[facetrack.Tracker](v)); err != nil {
		c.WriteMessage(websocket.CloseMessage, []byte{})
		return
	}

	sub := s.events.subscribe(v)
	s.logger.Debug("event subscriber connected", "handle", v)
	defer s.logger.Debug("event subscriber gone", "handle", v)

	go s.readPump(c, v, sub)
	writePump(c, sub)
}

// readPump only detects disconnects and answers pongs.
func (s *Server) readPump(c *websocket.Conn, topic uint64, sub *subscriber) {
	defer s.events.unsubscribe(topic, sub)

	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(c *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
