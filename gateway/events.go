package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/OrchardMediaLabs/orchard/models"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
	sendBufferSize = 256                 // Buffer size for the send channel.
)

// A session of someone connected wanting to receive audit events from one of the topics
type eventSession struct {
	conn *websocket.Conn
	// The topic this session is subscribed to.
	topic string
	// Buffered channel of outbound messages.
	send chan []byte
	// Service pointer to access logger, etc.
	service *Core
}

func validEventTopic(topic string) bool {
	switch topic {
	case models.TopicSessions, models.TopicAssets, models.TopicFolders:
		return true
	}
	return false
}

// publish places an audit event on the central channel. Dispatch to
// connected subscribers happens asynchronously; a full channel drops
// the event rather than stall the request handler. Event payloads must
// never carry credential material.
func (c *Core) publish(topic string, action string, data any) {
	event := models.Event{
		Topic:     topic,
		Action:    action,
		Data:      data,
		EmittedAt: time.Now().UTC(),
	}

	select {
	case c.eventCh <- event:
		c.logger.Debug("Event placed on event channel", "topic", topic, "action", action)
	default:
		c.logger.Warn("Event channel full, event dropped", "topic", topic, "action", action)
	}
}

// eventProcessingLoop drains the central event channel and fans each
// event out to the subscribers of its topic. Runs for the lifetime of
// the application context.
func (c *Core) eventProcessingLoop() {
	for {
		select {
		case event := <-c.eventCh:
			c.dispatchEventToSubscribers(event)
		case <-c.appCtx.Done():
			c.logger.Info("Event processing loop stopping")
			return
		}
	}
}

// eventSubscribeHandler handles WebSocket requests for audit-event subscriptions.
func (c *Core) eventSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		c.logger.Warn("WebSocket connection attempt without session id")
		http.Error(w, "Missing sessionId", http.StatusUnauthorized)
		return
	}
	if _, err := c.sessions.Resolve(sessionID); err != nil {
		c.logger.Warn("WebSocket connection attempt with unknown session id")
		http.Error(w, "Invalid or expired session", http.StatusUnauthorized)
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		c.logger.Warn("WebSocket connection attempt without topic")
		http.Error(w, "Missing topic", http.StatusBadRequest)
		return
	}
	if !validEventTopic(topic) {
		c.logger.Warn("WebSocket connection attempt with unknown topic", "topic", topic)
		http.Error(w, "Unknown topic", http.StatusBadRequest)
		return
	}

	c.wsConnectionLock.Lock()
	if c.activeWsConnections >= int32(c.cfg.Sessions.MaxEventConnections) {
		c.wsConnectionLock.Unlock()
		c.logger.Warn("Max WebSocket connections reached, rejecting new connection", "current", c.activeWsConnections, "max", c.cfg.Sessions.MaxEventConnections)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	// Incrementing happens in registerSubscriber after a successful upgrade
	c.wsConnectionLock.Unlock()

	conn, err := c.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error("Failed to upgrade WebSocket connection", "error", err, "topic", topic)
		return
	}
	c.logger.Info("WebSocket connection upgraded", "remote_addr", conn.RemoteAddr().String(), "topic", topic)

	session := &eventSession{
		conn:    conn,
		topic:   topic,
		send:    make(chan []byte, sendBufferSize),
		service: c,
	}

	c.registerSubscriber(session)

	go session.writePump()
	go session.readPump()
}

func (c *Core) registerSubscriber(session *eventSession) {
	c.eventSubscribersLock.Lock()
	defer c.eventSubscribersLock.Unlock()

	c.wsConnectionLock.Lock()
	defer c.wsConnectionLock.Unlock()

	if c.activeWsConnections >= int32(c.cfg.Sessions.MaxEventConnections) {
		c.logger.Error("Attempted to register subscriber when max connections already met or exceeded", "active", c.activeWsConnections, "max", c.cfg.Sessions.MaxEventConnections)
		go session.conn.Close()
		return
	}
	c.activeWsConnections++

	if _, ok := c.eventSubscribers[session.topic]; !ok {
		c.eventSubscribers[session.topic] = make(map[*eventSession]bool)
	}
	c.eventSubscribers[session.topic][session] = true

	c.logger.Info("Subscriber registered", "topic", session.topic, "remote_addr", session.conn.RemoteAddr().String())
}

func (c *Core) unregisterSubscriber(session *eventSession) {
	c.eventSubscribersLock.Lock()
	defer c.eventSubscribersLock.Unlock()

	c.wsConnectionLock.Lock()
	defer c.wsConnectionLock.Unlock()

	if sessionsInTopic, ok := c.eventSubscribers[session.topic]; ok {
		if _, ok := sessionsInTopic[session]; ok {
			delete(c.eventSubscribers[session.topic], session)
			c.logger.Info("Subscriber unregistered", "topic", session.topic, "remote_addr", session.conn.RemoteAddr().String())

			if c.activeWsConnections > 0 {
				c.activeWsConnections--
			} else {
				c.logger.Warn("Attempted to decrement active WebSocket connections below zero")
			}

			if len(c.eventSubscribers[session.topic]) == 0 {
				delete(c.eventSubscribers, session.topic)
			}
		}
	}
	close(session.send)
}

func (c *Core) dispatchEventToSubscribers(event models.Event) {
	c.eventSubscribersLock.RLock()
	defer c.eventSubscribersLock.RUnlock()

	sessionsForTopic, ok := c.eventSubscribers[event.Topic]
	if !ok || len(sessionsForTopic) == 0 {
		c.logger.Debug("No WebSocket subscribers for topic", "topic", event.Topic)
		return
	}

	message, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("Failed to marshal event for WebSocket dispatch", "topic", event.Topic, "error", err)
		return
	}
	for session := range sessionsForTopic {
		select {
		case session.send <- message:
			c.logger.Debug("Message queued for WebSocket subscriber", "topic", event.Topic, "remote_addr", session.conn.RemoteAddr())
		default:
			c.logger.Warn("Subscriber send channel full, message dropped", "topic", event.Topic, "remote_addr", session.conn.RemoteAddr())
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (s *eventSession) readPump() {
	defer func() {
		s.service.unregisterSubscriber(s)
		s.conn.Close()
		s.service.logger.Info(
			"WebSocket readPump finished, connection closed and unregistered",
			"remote_addr", s.conn.RemoteAddr(),
			"topic", s.topic,
		)
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Time{})

	s.conn.SetPongHandler(func(string) error {
		s.service.logger.Debug("WebSocket pong received", "remote_addr", s.conn.RemoteAddr())
		s.conn.SetReadDeadline(time.Time{})
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.service.logger.Error(
					"WebSocket read error",
					"remote_addr", s.conn.RemoteAddr(),
					"topic", s.topic,
					"error", err,
				)
			} else {
				s.service.logger.Info(
					"WebSocket connection closed",
					"remote_addr", s.conn.RemoteAddr(),
					"topic", s.topic,
					"error", err,
				)
			}
			break
		}
		s.service.logger.Debug(
			"Received message from client on event WebSocket (typically ignored)",
			"remote_addr", s.conn.RemoteAddr(),
			"message_type", message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (s *eventSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.service.logger.Info("WebSocket writePump finished", "remote_addr", s.conn.RemoteAddr(), "topic", s.topic)
	}()
	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				s.service.logger.Info("WebSocket send channel closed by hub", "remote_addr", s.conn.RemoteAddr(), "topic", s.topic)
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				s.service.logger.Error("WebSocket NextWriter error", "remote_addr", s.conn.RemoteAddr(), "topic", s.topic, "error", err)
				return
			}
			if _, err = w.Write(message); err != nil {
				s.service.logger.Error("WebSocket message write error", "remote_addr", s.conn.RemoteAddr(), "topic", s.topic, "error", err)
			}

			if err := w.Close(); err != nil {
				s.service.logger.Error("WebSocket writer close error", "remote_addr", s.conn.RemoteAddr(), "topic", s.topic, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.service.logger.Error("WebSocket ping write error", "remote_addr", s.conn.RemoteAddr(), "topic", s.topic, "error", err)
				return
			}
		case <-s.service.appCtx.Done():
			s.service.logger.Info("Service context done, closing WebSocket connection from writePump", "remote_addr", s.conn.RemoteAddr())
			return
		}
	}
}
