// Package session holds everything bound to one signed-in user: the main
// context, the live stores and the request manager.
package session

import (
	"context"
	"fmt"
	"sync"

	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/shared/dispatch"
	"trip-planner/internal/shared/errors"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
	"trip-planner/internal/tripplanner/requestmanager"
	"trip-planner/internal/tripplanner/store"
)

// Options configures a session
type Options struct {
	UID     string
	Role    model.UserRole
	Backend repository.Backend
	// Requests is optional. The session binds a copy to its main queue.
	Requests *requestmanager.Manager
	Logger   logger.Logger
}

// Session owns the stores of one user. Every store delivers on Main.
type Session struct {
	uid      string
	role     model.UserRole
	main     *dispatch.Queue
	backend  repository.Backend
	requests *requestmanager.Manager
	log      logger.Logger

	users    *store.UsersStore
	trips    *store.TripsStore
	userInfo *store.RecordWatcher[model.User]

	mu     sync.Mutex
	extra  map[string]*store.TripsStore
	closed bool
}

// Open builds the session. Staff roles also get the users store.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if err := dbpath.ValidateKey(opts.UID); err != nil {
		return nil, errors.NewValidationError("Invalid user id").WithCause(err)
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("session requires a backend")
	}
	if !opts.Role.IsValid() {
		opts.Role = model.RoleUser
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	s := &Session{
		uid:     opts.UID,
		role:    opts.Role,
		main:    dispatch.NewQueue(),
		backend: opts.Backend,
		log:     opts.Logger.WithComponent("session").WithFields(map[string]interface{}{"uid": opts.UID}),
		extra:   make(map[string]*store.TripsStore),
	}

	if opts.Requests != nil {
		s.requests = opts.Requests.WithMain(s.main)
	}

	var err error
	if s.trips, err = store.NewTripsStore(ctx, opts.Backend, opts.UID, s.main, opts.Logger); err != nil {
		s.Close()
		return nil, err
	}
	if s.userInfo, err = store.NewUserInfoWatcher(ctx, opts.Backend, opts.UID, s.main, opts.Logger); err != nil {
		s.Close()
		return nil, err
	}
	if opts.Role.CanManageUsers() {
		if s.users, err = store.NewUsersStore(ctx, opts.Backend, s.main, opts.Logger); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.log.Infof("Session opened with role %s", opts.Role)
	return s, nil
}

func (s *Session) UID() string                       { return s.uid }
func (s *Session) Role() model.UserRole              { return s.role }
func (s *Session) Main() dispatch.Dispatcher         { return s.main }
func (s *Session) Trips() *store.TripsStore          { return s.trips }
func (s *Session) Requests() *requestmanager.Manager { return s.requests }

// Users returns the users store, or nil for roles that cannot manage users
func (s *Session) Users() *store.UsersStore { return s.users }

// UserInfo follows the signed-in user's own profile
func (s *Session) UserInfo() *store.RecordWatcher[model.User] { return s.userInfo }

// TripsFor returns a trips store of another user. Only admins may open one.
// Stores are cached per uid and closed with the session.
func (s *Session) TripsFor(ctx context.Context, uid string) (*store.TripsStore, error) {
	if uid == s.uid {
		return s.trips, nil
	}
	if !s.role.CanManageAllTrips() {
		return nil, errors.NewAuthorizationError("Only admins can view other users' trips")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}
	if trips, ok := s.extra[uid]; ok {
		return trips, nil
	}
	trips, err := store.NewTripsStore(ctx, s.backend, uid, s.main, s.log)
	if err != nil {
		return nil, err
	}
	s.extra[uid] = trips
	return trips, nil
}

// Close stops every store and then the main queue. It must not be called
// from a change callback.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	extra := s.extra
	s.extra = nil
	s.mu.Unlock()

	for uid, trips := range extra {
		if err := trips.Close(); err != nil {
			s.log.Warnf("Closing trips of %s failed: %v", uid, err)
		}
	}
	if s.trips != nil {
		_ = s.trips.Close()
	}
	if s.users != nil {
		_ = s.users.Close()
	}
	if s.userInfo != nil {
		_ = s.userInfo.Close()
	}
	s.main.Close()
	s.log.Info("Session closed")
	return nil
}
