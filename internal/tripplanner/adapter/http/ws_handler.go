package http

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/adapter/security"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
)

func (g *Gateway) registerListenRoutes(router fiber.Router) {
	router.Use(g.cfg.WebSocketPath, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		claims, err := g.authenticate(c)
		if err != nil {
			return g.writeError(c, err)
		}
		c.Locals(claimsKey, claims)
		return c.Next()
	})
	router.Get(g.cfg.WebSocketPath, websocket.New(g.handleListen))
}

// listenClient is one websocket connection. Messages go through send and are
// written by a single writer goroutine.
type listenClient struct {
	id     string
	conn   *websocket.Conn
	claims *security.Claims
	send   chan model.ListenMessage
	done   chan struct{}
	once   sync.Once
	log    logger.Logger

	mu   sync.Mutex
	subs map[string]repository.Subscription
}

func (g *Gateway) handleListen(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	claims, _ := conn.Locals(claimsKey).(*security.Claims)
	client := &listenClient{
		id:     uuid.NewString(),
		conn:   conn,
		claims: claims,
		send:   make(chan model.ListenMessage, g.cfg.ClientSendChannelBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]repository.Subscription),
	}
	fields := map[string]interface{}{"clientID": client.id}
	if claims != nil {
		fields["uid"] = claims.UID
	}
	client.log = g.log.WithFields(fields)
	client.log.Info("Listen connection established")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.writeLoop(g.cfg.WriteTimeout)
	}()

	defer func() {
		client.unsubscribeAll()
		client.stop()
		wg.Wait()
		client.log.Info("Listen connection closed")
	}()

	for {
		var req model.ListenRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.log.Warnf("Listen read failed: %v", err)
			}
			return
		}
		switch req.Action {
		case model.ActionSubscribe:
			g.subscribe(ctx, client, req)
		case model.ActionUnsubscribe:
			client.unsubscribe(req.SubscriptionID)
		default:
			client.push(model.ListenMessage{
				Type:           model.MessageError,
				SubscriptionID: req.SubscriptionID,
				Error:          "unknown action: " + req.Action,
			})
		}
	}
}

func (g *Gateway) subscribe(ctx context.Context, client *listenClient, req model.ListenRequest) {
	fail := func(msg string) {
		client.push(model.ListenMessage{
			Type:           model.MessageSubscriptionError,
			SubscriptionID: req.SubscriptionID,
			Path:           req.Path,
			Error:          msg,
		})
	}

	if req.SubscriptionID == "" {
		fail("subscriptionId is required")
		return
	}
	path := dbpath.Normalize(req.Path)
	if err := dbpath.ValidatePath(path); err != nil {
		fail(err.Error())
		return
	}
	if decision := g.rules.Evaluate(security.OperationRead, path, client.claims, nil); !decision.Allowed {
		fail("Permission denied")
		return
	}

	client.mu.Lock()
	_, exists := client.subs[req.SubscriptionID]
	client.mu.Unlock()
	if exists {
		fail("subscription already exists")
		return
	}

	// snapshot events wait until the confirmation is queued
	ready := make(chan struct{})
	handler := func(event model.ChildEvent) {
		select {
		case <-ready:
		case <-client.done:
			return
		}
		client.push(model.ListenMessage{
			Type:           model.MessageChildEvent,
			SubscriptionID: req.SubscriptionID,
			Path:           path,
			Event:          &event,
		})
	}

	sub, err := g.backend.Subscribe(ctx, path, handler)
	if err != nil {
		close(ready)
		client.log.Errorf("Subscribe to %s failed: %v", path, err)
		fail(err.Error())
		return
	}

	client.mu.Lock()
	client.subs[req.SubscriptionID] = sub
	client.mu.Unlock()

	client.push(model.ListenMessage{
		Type:           model.MessageSubscriptionConfirmed,
		SubscriptionID: req.SubscriptionID,
		Path:           path,
	})
	close(ready)
	client.log.Debugf("Subscribed %s to %s", req.SubscriptionID, path)
}

func (c *listenClient) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if !ok {
		c.push(model.ListenMessage{Type: model.MessageError, SubscriptionID: id, Error: "unknown subscription"})
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		c.log.Warnf("Unsubscribe %s failed: %v", id, err)
	}
	c.push(model.ListenMessage{Type: model.MessageUnsubscribed, SubscriptionID: id, Path: sub.Path()})
}

func (c *listenClient) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]repository.Subscription)
	c.mu.Unlock()

	for id, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.log.Warnf("Unsubscribe %s failed: %v", id, err)
		}
	}
}

// push queues msg unless the connection is gone. It blocks while the send
// buffer is full.
func (c *listenClient) push(msg model.ListenMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *listenClient) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *listenClient) writeLoop(timeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if timeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Warnf("Listen write failed: %v", err)
				c.stop()
				return
			}
		}
	}
}
