package store

import (
	"context"

	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/shared/dispatch"
	"trip-planner/internal/shared/logger"
	"trip-planner/internal/tripplanner/codec"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"
)

// Backend paths
const (
	UsersPath = "/users"
	TripsPath = "/trips"
)

// UsersStore mirrors /users
type UsersStore = ObjectStore[model.User]

// TripsStore mirrors /trips/<uid>
type TripsStore = ObjectStore[model.Trip]

// TripsPathFor returns the trips path of a user
func TripsPathFor(uid string) string {
	return dbpath.Child(TripsPath, uid)
}

// UserPathFor returns the profile path of a user
func UserPathFor(uid string) string {
	return dbpath.Child(UsersPath, uid)
}

// NewUsersStore mirrors all user profiles
func NewUsersStore(ctx context.Context, backend repository.Backend, main dispatch.Dispatcher, log logger.Logger) (*UsersStore, error) {
	return New(ctx, Options[model.User]{
		Backend: backend,
		Path:    UsersPath,
		Codec:   codec.UserCodec(),
		Main:    main,
		Logger:  log,
	})
}

// NewTripsStore mirrors the trips of uid. The path is fixed at construction.
func NewTripsStore(ctx context.Context, backend repository.Backend, uid string, main dispatch.Dispatcher, log logger.Logger) (*TripsStore, error) {
	if err := dbpath.ValidateKey(uid); err != nil {
		return nil, err
	}
	return New(ctx, Options[model.Trip]{
		Backend: backend,
		Path:    TripsPathFor(uid),
		Codec:   codec.TripCodec(nil),
		Main:    main,
		Logger:  log,
	})
}
