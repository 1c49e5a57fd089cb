package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/shared/dispatch"
	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
	"trip-planner/internal/tripplanner/requestmanager"
)

// Options configures a gateway client
type Options struct {
	// URL is the gateway base URL, e.g. "http://localhost:3030".
	URL           string
	WebSocketPath string
	AccessToken   string
	Timeout       time.Duration
	Transport     requestmanager.Transport
	Dialer        *websocket.Dialer
	Logger        logger.Logger
}

// Client is a Backend served by a remote sync gateway. Reads and writes use
// the REST surface; subscriptions share one websocket connection.
type Client struct {
	baseURL   string
	wsURL     string
	token     string
	timeout   time.Duration
	transport requestmanager.Transport
	dialer    *websocket.Dialer
	log       logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*subscription
	pending map[string]chan error
	closed  bool

	writeMu sync.Mutex
}

var _ repository.Backend = (*Client)(nil)

// New creates a client. The websocket is dialed on the first Subscribe.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("gateway URL must be absolute, got %q", opts.URL)
	}
	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	path := opts.WebSocketPath
	if path == "" {
		path = "/ws/v1/listen"
	}
	ws.Path = strings.TrimRight(ws.Path, "/") + path
	q := url.Values{}
	if opts.AccessToken != "" {
		q.Set("auth", opts.AccessToken)
	}
	ws.RawQuery = q.Encode()

	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Transport == nil {
		opts.Transport = requestmanager.NewFastHTTPTransport(opts.Timeout)
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	return &Client{
		baseURL:   strings.TrimRight(opts.URL, "/"),
		wsURL:     ws.String(),
		token:     opts.AccessToken,
		timeout:   opts.Timeout,
		transport: opts.Transport,
		dialer:    opts.Dialer,
		log:       opts.Logger.WithComponent("realtime_client"),
		subs:      make(map[string]*subscription),
		pending:   make(map[string]chan error),
	}, nil
}

func (c *Client) restURL(path string) string {
	u := c.baseURL + dbpath.Normalize(path) + ".json"
	if c.token != "" {
		u += "?auth=" + url.QueryEscape(c.token)
	}
	return u
}

func (c *Client) call(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return nil, err
	}
	req := &requestmanager.Request{Method: method, URL: c.restURL(path)}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.NewDecodeError("Invalid request body", err)
		}
		req.Body = raw
	}
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	return nil, gatewayError(resp)
}

// gatewayError turns an {"error": msg} response into a typed error
func gatewayError(resp *requestmanager.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(resp.Body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	}
	switch resp.StatusCode {
	case 401:
		return apperrors.NewAuthenticationError(msg)
	case 403:
		return apperrors.NewAuthorizationError(msg)
	case 404:
		return apperrors.NewNotFoundError(msg)
	case 400:
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, msg, 400)
	}
	e := apperrors.NewResponseError(resp.StatusCode)
	e.Message = msg
	return e
}

// Get implements repository.Reader
func (c *Client) Get(ctx context.Context, path string) (interface{}, error) {
	raw, err := c.call(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	var value interface{}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, apperrors.NewDecodeError("Invalid JSON response", err)
	}
	return value, nil
}

// Set implements repository.Writer
func (c *Client) Set(ctx context.Context, path string, value interface{}) error {
	if value == nil {
		return c.Remove(ctx, path)
	}
	_, err := c.call(ctx, "PUT", path, value)
	return err
}

// Push implements repository.Writer
func (c *Client) Push(ctx context.Context, path string, value interface{}) (string, error) {
	raw, err := c.call(ctx, "POST", path, value)
	if err != nil {
		return "", err
	}
	var created struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &created); err != nil || created.Name == "" {
		return "", apperrors.NewDecodeError("Invalid push response", err)
	}
	return created.Name, nil
}

// Update implements repository.Writer
func (c *Client) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	_, err := c.call(ctx, "PATCH", path, fields)
	return err
}

// Remove implements repository.Writer
func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.call(ctx, "DELETE", path, nil)
	return err
}

// Connect dials the listen feed if it is not connected yet
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.closed {
		return apperrors.ErrSubscriptionClosed
	}
	if c.conn != nil {
		return nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return apperrors.NewTransportError(err)
	}
	c.conn = conn
	go c.readLoop(conn)
	c.log.Infof("Connected to %s", strings.SplitN(c.wsURL, "?", 2)[0])
	return nil
}

// Connected reports whether the listen feed is up
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) send(conn *websocket.Conn, req model.ListenRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return conn.WriteJSON(req)
}

// Subscribe implements repository.Subscriber. It returns once the gateway
// has confirmed the subscription.
func (c *Client) Subscribe(ctx context.Context, path string, handler repository.ChildEventHandler) (repository.Subscription, error) {
	if err := dbpath.ValidatePath(path); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("nil child event handler")
	}

	sub := &subscription{
		client:  c,
		id:      uuid.NewString(),
		path:    dbpath.Normalize(path),
		queue:   dispatch.NewQueue(),
		handler: handler,
	}
	confirmed := make(chan error, 1)

	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		sub.queue.Close()
		return nil, err
	}
	conn := c.conn
	c.subs[sub.id] = sub
	c.pending[sub.id] = confirmed
	c.mu.Unlock()

	fail := func(err error) (repository.Subscription, error) {
		c.mu.Lock()
		delete(c.subs, sub.id)
		delete(c.pending, sub.id)
		c.mu.Unlock()
		sub.stopped.Store(true)
		go sub.queue.Close()
		return nil, err
	}

	err := c.send(conn, model.ListenRequest{
		Action:         model.ActionSubscribe,
		SubscriptionID: sub.id,
		Path:           sub.path,
	})
	if err != nil {
		return fail(apperrors.NewTransportError(err))
	}

	select {
	case err := <-confirmed:
		if err != nil {
			return fail(err)
		}
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	c.log.Debugf("Subscription %s on %s confirmed", sub.id, sub.path)
	return sub, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg model.ListenMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.disconnected(conn, err)
			return
		}
		c.route(msg)
	}
}

func (c *Client) route(msg model.ListenMessage) {
	c.mu.Lock()
	sub := c.subs[msg.SubscriptionID]
	confirmed, waiting := c.pending[msg.SubscriptionID]
	c.mu.Unlock()

	switch msg.Type {
	case model.MessageSubscriptionConfirmed, model.MessageSubscriptionError:
		if !waiting {
			return
		}
		c.mu.Lock()
		delete(c.pending, msg.SubscriptionID)
		c.mu.Unlock()
		if msg.Type == model.MessageSubscriptionError {
			confirmed <- subscriptionError(msg.Error)
		} else {
			confirmed <- nil
		}
	case model.MessageChildEvent:
		if sub == nil || msg.Event == nil {
			return
		}
		sub.deliver(*msg.Event)
	case model.MessageUnsubscribed:
	case model.MessageError:
		c.log.Warnf("Gateway error for %s: %s", msg.SubscriptionID, msg.Error)
	default:
		c.log.Debugf("Ignoring message type %q", msg.Type)
	}
}

func subscriptionError(msg string) error {
	if msg == "Permission denied" {
		return apperrors.NewAuthorizationError(msg)
	}
	return apperrors.NewAppError(apperrors.ErrorTypeValidation, msg, 400)
}

// disconnected drops the connection. Live subscriptions stop receiving events
// and pending ones fail with ErrNotConnected.
func (c *Client) disconnected(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan error)
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		ch <- apperrors.ErrNotConnected
	}
	if !closed {
		c.log.Warnf("Listen feed disconnected: %v", err)
	}
}

func (c *Client) unsubscribe(sub *subscription) error {
	c.mu.Lock()
	delete(c.subs, sub.id)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, model.ListenRequest{Action: model.ActionUnsubscribe, SubscriptionID: sub.id})
}

// Close stops all subscriptions and closes the listen feed
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

type subscription struct {
	client  *Client
	id      string
	path    string
	queue   *dispatch.Queue
	handler repository.ChildEventHandler
	stopped atomic.Bool
}

func (s *subscription) deliver(event model.ChildEvent) {
	s.queue.Dispatch(func() {
		if !s.stopped.Load() {
			s.handler(event)
		}
	})
}

func (s *subscription) Path() string { return s.path }

func (s *subscription) Unsubscribe() error {
	if s.stopped.Swap(true) {
		return nil
	}
	err := s.client.unsubscribe(s)
	go s.queue.Close()
	return err
}
