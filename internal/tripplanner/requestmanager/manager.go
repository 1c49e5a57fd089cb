// Package requestmanager performs validated, authenticated REST calls against the
// sync endpoint and delivers each outcome exactly once on the main context.
package requestmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"trip-planner/internal/shared/async"
	"trip-planner/internal/shared/dispatch"
	"trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/codec"
	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/validation"
)

// HTTP methods used by the manager
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

const (
	msgNoData      = "No data returned"
	msgInvalidJSON = "Invalid JSON response"
)

// Options configures a Manager. Zero fields get defaults.
type Options struct {
	Endpoint     string
	AccessToken  string
	Timeout      time.Duration
	Transport    Transport
	Reachability Reachability
	// Main runs Deliver callbacks. Nil is for tests and one-shot tools only:
	// callbacks then run on the goroutine that observed the result. Sessions
	// bind their own main queue with WithMain.
	Main   dispatch.Dispatcher
	Logger logger.Logger
}

// Manager is the REST call layer. It is safe for concurrent use.
type Manager struct {
	endpoint     string
	transport    Transport
	reachability Reachability
	main         dispatch.Dispatcher
	logger       logger.Logger
	creds        *credentials
}

// credentials is shared by a manager and the copies WithMain returns
type credentials struct {
	mu    sync.RWMutex
	token string
}

// New creates a manager
func New(opts Options) (*Manager, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint must be an absolute URL, got %q", opts.Endpoint)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Transport == nil {
		opts.Transport = NewFastHTTPTransport(opts.Timeout)
	}
	if opts.Reachability == nil {
		r, err := NewDialReachability(opts.Endpoint, opts.Timeout)
		if err != nil {
			return nil, err
		}
		opts.Reachability = r
	}
	if opts.Main == nil {
		opts.Main = dispatch.Immediate{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return &Manager{
		endpoint:     strings.TrimRight(opts.Endpoint, "/"),
		transport:    opts.Transport,
		reachability: opts.Reachability,
		main:         opts.Main,
		logger:       opts.Logger.WithComponent("request_manager"),
		creds:        &credentials{token: opts.AccessToken},
	}, nil
}

// WithMain returns a manager that delivers on main. It shares the transport
// and the access token with m.
func (m *Manager) WithMain(main dispatch.Dispatcher) *Manager {
	bound := *m
	bound.main = main
	return &bound
}

// NewFromConfig creates a manager using the endpoint, token and timeout from cfg
func NewFromConfig(cfg *config.Config, main dispatch.Dispatcher, log logger.Logger) (*Manager, error) {
	return New(Options{
		Endpoint:    cfg.Endpoint,
		AccessToken: cfg.AccessToken,
		Timeout:     cfg.RequestTimeout,
		Main:        main,
		Logger:      log,
	})
}

// SetAccessToken replaces the token appended to every request
func (m *Manager) SetAccessToken(token string) {
	m.creds.mu.Lock()
	m.creds.token = token
	m.creds.mu.Unlock()
}

func (m *Manager) accessToken() string {
	m.creds.mu.RLock()
	defer m.creds.mu.RUnlock()
	return m.creds.token
}

// URL returns the full request URL of a resource path
func (m *Manager) URL(path string) string {
	return m.endpoint + path + ".json?auth=" + url.QueryEscape(m.accessToken())
}

// Deliver invokes exactly one of the callbacks on the main context once f resolves
func (m *Manager) Deliver(f *async.Future[interface{}], onSuccess func(interface{}), onFailure func(error)) {
	f.Then(m.main, func(v interface{}, err error) {
		if err != nil {
			if onFailure != nil {
				onFailure(err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(v)
		}
	})
}

// GetUsers fetches /users
func (m *Manager) GetUsers(ctx context.Context) *async.Future[interface{}] {
	return m.perform(ctx, MethodGet, "/users", nil)
}

// GetUserInfo fetches /users/<uid>
func (m *Manager) GetUserInfo(ctx context.Context, uid string) *async.Future[interface{}] {
	if err := validation.ValidateID(uid); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodGet, "/users/"+uid, nil)
}

// UpdateUserInfo patches /users/<uid>
func (m *Manager) UpdateUserInfo(ctx context.Context, uid string, user *model.User) *async.Future[interface{}] {
	if err := validation.ValidateID(uid); err != nil {
		return async.Failed[interface{}](err)
	}
	if err := validation.ValidateUser(user); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodPatch, "/users/"+uid, codec.EncodeUser(*user))
}

// CreateUserInfo posts to /users
func (m *Manager) CreateUserInfo(ctx context.Context, user *model.User) *async.Future[interface{}] {
	if err := validation.ValidateUser(user); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodPost, "/users", codec.EncodeUser(*user))
}

// DeleteUserInfo deletes /users/<uid>
func (m *Manager) DeleteUserInfo(ctx context.Context, uid string) *async.Future[interface{}] {
	if err := validation.ValidateID(uid); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodDelete, "/users/"+uid, nil)
}

// GetUserTrips fetches /trips/<uid>
func (m *Manager) GetUserTrips(ctx context.Context, uid string) *async.Future[interface{}] {
	if err := validation.ValidateID(uid); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodGet, "/trips/"+uid, nil)
}

// GetUserTrip fetches /trips/<uid>/<tripID>
func (m *Manager) GetUserTrip(ctx context.Context, uid, tripID string) *async.Future[interface{}] {
	if err := validation.ValidateIDs(uid, tripID); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodGet, "/trips/"+uid+"/"+tripID, nil)
}

// UpdateUserTrip patches /trips/<uid>/<tripID>
func (m *Manager) UpdateUserTrip(ctx context.Context, uid, tripID string, trip *model.Trip) *async.Future[interface{}] {
	if err := validation.ValidateIDs(uid, tripID); err != nil {
		return async.Failed[interface{}](err)
	}
	if err := validation.ValidateTrip(trip); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodPatch, "/trips/"+uid+"/"+tripID, codec.EncodeTrip(*trip))
}

// CreateUserTrip posts to /trips/<uid>/
func (m *Manager) CreateUserTrip(ctx context.Context, uid string, trip *model.Trip) *async.Future[interface{}] {
	if err := validation.ValidateID(uid); err != nil {
		return async.Failed[interface{}](err)
	}
	if err := validation.ValidateTrip(trip); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodPost, "/trips/"+uid+"/", codec.EncodeTrip(*trip))
}

// DeleteUserTrip deletes /trips/<uid>/<tripID>
func (m *Manager) DeleteUserTrip(ctx context.Context, uid, tripID string) *async.Future[interface{}] {
	if err := validation.ValidateIDs(uid, tripID); err != nil {
		return async.Failed[interface{}](err)
	}
	return m.perform(ctx, MethodDelete, "/trips/"+uid+"/"+tripID, nil)
}

func (m *Manager) perform(ctx context.Context, method, path string, params map[string]interface{}) *async.Future[interface{}] {
	var body []byte
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return async.Failed[interface{}](errors.NewDecodeError("Cannot encode request body", err))
		}
		body = raw
	}
	req := &Request{Method: method, URL: m.URL(path), Body: body}

	// the reachability check may dial, so it runs off the caller's goroutine
	return async.Go(func() (interface{}, error) {
		if !m.reachability.Reachable(ctx) {
			m.logger.Warnf("Endpoint unreachable, %s %s not sent", method, path)
			return nil, errors.NewConnectivityError()
		}
		m.logger.Debugf("Performing %s to %s with parameters: %v", method, path, params)
		resp, err := m.transport.Do(ctx, req)
		return m.process(resp, err)
	})
}

// process classifies a response: 200..204 succeed with the parsed JSON body,
// anything else fails with the transport error or a synthesized status error.
func (m *Manager) process(resp *Response, transportErr error) (interface{}, error) {
	if transportErr == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 205 {
		if len(resp.Body) == 0 {
			if resp.StatusCode == 204 {
				return nil, nil
			}
			m.logger.Error("No data")
			return nil, errors.NewDecodeError(msgNoData, nil)
		}
		var result interface{}
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			m.logger.Error(err.Error())
			return nil, errors.NewDecodeError(msgInvalidJSON, err)
		}
		m.logger.Infof("%s", resp.Body)
		return result, nil
	}

	if resp != nil && len(resp.Body) > 0 {
		m.logger.Error(string(resp.Body))
	} else {
		m.logger.Error("Request failed")
	}
	if transportErr != nil {
		return nil, errors.NewTransportError(transportErr)
	}
	status := 500
	if resp != nil {
		status = resp.StatusCode
	}
	return nil, errors.NewResponseError(status)
}
