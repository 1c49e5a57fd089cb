package session

import (
	"context"
	"testing"
	"time"

	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/tripplanner/adapter/persistence/memory"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/requestmanager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, backend *memory.Backend) {
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "/users/u1", map[string]interface{}{"name": "Ann", "email": "ann@example.com", "role": "user"}))
	require.NoError(t, backend.Set(ctx, "/users/u2", map[string]interface{}{"name": "Bob", "email": "bob@example.com", "role": "admin"}))
	require.NoError(t, backend.Set(ctx, "/trips/u1/t1", map[string]interface{}{"destinationName": "Lisbon", "comment": "", "startDate": "01-05-2026", "endDate": "04-05-2026"}))
}

func TestOpen_RegularUser(t *testing.T) {
	backend := memory.New()
	seed(t, backend)

	s, err := Open(context.Background(), Options{UID: "u1", Role: model.RoleUser, Backend: backend})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "u1", s.UID())
	assert.Nil(t, s.Users())
	assert.Nil(t, s.Requests())
	assert.Equal(t, "/trips/u1", s.Trips().Path())

	require.Eventually(t, func() bool { return s.Trips().Len() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		u, ok := s.UserInfo().Current()
		return ok && u.Name == "Ann"
	}, time.Second, 5*time.Millisecond)

	_, err = s.TripsFor(context.Background(), "u2")
	assert.True(t, apperrors.IsAuthorization(err))

	own, err := s.TripsFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, s.Trips(), own)
}

func TestOpen_AdminSeesEveryone(t *testing.T) {
	backend := memory.New()
	seed(t, backend)

	s, err := Open(context.Background(), Options{UID: "u2", Role: model.RoleAdmin, Backend: backend})
	require.NoError(t, err)

	require.NotNil(t, s.Users())
	require.Eventually(t, func() bool { return s.Users().Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Trips().Len())

	other, err := s.TripsFor(context.Background(), "u1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return other.Len() == 1 }, time.Second, 5*time.Millisecond)

	again, err := s.TripsFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, other, again)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, backend.SubscriberCount("/trips/u1"))
	assert.Equal(t, 0, backend.SubscriberCount("/users"))

	_, err = s.TripsFor(context.Background(), "u3")
	assert.ErrorIs(t, err, apperrors.ErrStoreClosed)
}

func TestOpen_ManagerGetsUsersOnly(t *testing.T) {
	backend := memory.New()
	seed(t, backend)

	s, err := Open(context.Background(), Options{UID: "u3", Role: model.RoleManager, Backend: backend})
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Users())
	_, err = s.TripsFor(context.Background(), "u1")
	assert.True(t, apperrors.IsAuthorization(err))
}

func TestOpen_Rejects(t *testing.T) {
	_, err := Open(context.Background(), Options{UID: "a.b", Backend: memory.New()})
	assert.True(t, apperrors.IsValidation(err))

	_, err = Open(context.Background(), Options{UID: "u1"})
	assert.Error(t, err)
}

func TestOpen_UnknownRoleFallsBackToUser(t *testing.T) {
	s, err := Open(context.Background(), Options{UID: "u1", Role: "root", Backend: memory.New()})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, model.RoleUser, s.Role())
	assert.Nil(t, s.Users())
}

type staticTransport string

func (s staticTransport) Do(context.Context, *requestmanager.Request) (*requestmanager.Response, error) {
	return &requestmanager.Response{StatusCode: 200, Body: []byte(s)}, nil
}

func TestOpen_RequestsDeliverOnMain(t *testing.T) {
	backend := memory.New()
	seed(t, backend)

	shared, err := requestmanager.New(requestmanager.Options{
		Endpoint:     "https://trips.example.com/",
		Transport:    staticTransport(`{"name":"Ann"}`),
		Reachability: requestmanager.AlwaysReachable{},
	})
	require.NoError(t, err)

	s, err := Open(context.Background(), Options{UID: "u1", Role: model.RoleUser, Backend: backend, Requests: shared})
	require.NoError(t, err)
	defer s.Close()
	require.NotNil(t, s.Requests())

	// hold the main queue so a callback can only run once it is released
	gate := make(chan struct{})
	s.Main().Dispatch(func() { <-gate })

	got := make(chan interface{}, 1)
	r := s.Requests()
	r.Deliver(r.GetUserInfo(context.Background(), "u1"),
		func(v interface{}) { got <- v },
		func(err error) { got <- err })

	select {
	case <-got:
		t.Fatal("callback ran while the main queue was busy")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate)
	select {
	case v := <-got:
		assert.Equal(t, map[string]interface{}{"name": "Ann"}, v)
	case <-time.After(time.Second):
		t.Fatal("no callback")
	}
}
