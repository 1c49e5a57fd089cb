package store

import (
	"context"
	"testing"
	"time"

	"trip-planner/internal/shared/dispatch"
	"trip-planner/internal/tripplanner/adapter/persistence/memory"
	"trip-planner/internal/tripplanner/codec"
	"trip-planner/internal/tripplanner/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserInfoWatcher_FollowsOneUser(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.Set(ctx, "/users/u1", map[string]interface{}{"name": "Ann", "email": "ann@example.com", "role": "admin"}))
	require.NoError(t, backend.Set(ctx, "/users/u2", map[string]interface{}{"name": "Bob"}))

	main := dispatch.NewQueue()
	defer main.Close()

	w, err := NewUserInfoWatcher(ctx, backend, "u1", main, nil)
	require.NoError(t, err)
	defer w.Close()

	want := model.User{Key: "u1", Name: "Ann", Email: "ann@example.com", Role: model.RoleAdmin}
	require.Eventually(t, func() bool {
		u, ok := w.Current()
		return ok && u == want
	}, time.Second, 5*time.Millisecond)

	changes := make(chan model.User, 16)
	w.OnChange(func(u model.User, present bool) {
		if present {
			changes <- u
		}
	})

	require.NoError(t, backend.Set(ctx, "/users/u2/name", "Bobby"))
	_, err = w.Save(ctx, model.User{Name: "Anna", Email: "ann@example.com", Role: model.RoleAdmin}).Wait(ctx)
	require.NoError(t, err)

	select {
	case u := <-changes:
		assert.Equal(t, "Anna", u.Name)
		assert.Equal(t, "u1", u.Key)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
	assert.Empty(t, changes, "writes to other users must not notify")

	require.NoError(t, backend.Set(ctx, "/users/u1/email", "anna@example.com"))
	require.Eventually(t, func() bool {
		u, _ := w.Current()
		return u.Email == "anna@example.com" && u.Name == "Anna"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, backend.Remove(ctx, "/users/u1"))
	require.Eventually(t, func() bool {
		_, ok := w.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestRecordWatcher_RejectsRoot(t *testing.T) {
	_, err := NewRecordWatcher(context.Background(), memory.New(), "/", codec.UserCodec(), nil, nil)
	assert.Error(t, err)
}
