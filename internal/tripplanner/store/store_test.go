package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trip-planner/internal/shared/dispatch"
	apperrors "trip-planner/internal/shared/errors"
	"trip-planner/internal/tripplanner/adapter/persistence/memory"
	"trip-planner/internal/tripplanner/domain/model"
	"trip-planner/internal/tripplanner/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockBackend captures the subscription handler so tests can inject events directly.
type mockBackend struct {
	mock.Mock
	mu      sync.Mutex
	handler repository.ChildEventHandler
}

type mockSubscription struct {
	path         string
	unsubscribed bool
}

func (s *mockSubscription) Path() string { return s.path }
func (s *mockSubscription) Unsubscribe() error {
	s.unsubscribed = true
	return nil
}

func (m *mockBackend) Get(ctx context.Context, path string) (interface{}, error) {
	args := m.Called(ctx, path)
	return args.Get(0), args.Error(1)
}

func (m *mockBackend) Set(ctx context.Context, path string, value interface{}) error {
	return m.Called(ctx, path, value).Error(0)
}

func (m *mockBackend) Push(ctx context.Context, path string, value interface{}) (string, error) {
	args := m.Called(ctx, path, value)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	return m.Called(ctx, path, fields).Error(0)
}

func (m *mockBackend) Remove(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *mockBackend) Subscribe(ctx context.Context, path string, handler repository.ChildEventHandler) (repository.Subscription, error) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return &mockSubscription{path: path}, nil
}

func (m *mockBackend) Close() error { return nil }

func (m *mockBackend) emit(event model.ChildEvent) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(event)
}

func tripPayload(dest string) map[string]interface{} {
	return map[string]interface{}{
		"destinationName": dest,
		"startDate":       "01-06-2024",
		"endDate":         "05-06-2024",
	}
}

func newMockTripsStore(t *testing.T) (*TripsStore, *mockBackend) {
	t.Helper()
	b := &mockBackend{}
	s, err := NewTripsStore(context.Background(), b, "u1", dispatch.Immediate{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, b
}

func keys(trips []model.Trip) []string {
	out := make([]string, 0, len(trips))
	for _, tr := range trips {
		out = append(out, tr.Key)
	}
	return out
}

func TestStore_ChildAddedAppendsInArrivalOrder(t *testing.T) {
	s, b := newMockTripsStore(t)
	var notified int
	s.OnChange(func([]model.Trip) { notified++ })

	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t2", Value: tripPayload("Rome")})
	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t1", Value: tripPayload("Oslo")})

	assert.Equal(t, []string{"t2", "t1"}, keys(s.Objects()))
	assert.Equal(t, 2, notified)
	assert.Equal(t, "/trips/u1", s.Path())
}

func TestStore_DuplicateChildAddedReplacesInPlace(t *testing.T) {
	s, b := newMockTripsStore(t)
	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t1", Value: tripPayload("Oslo")})
	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t2", Value: tripPayload("Rome")})
	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t1", Value: tripPayload("Bergen")})

	objs := s.Objects()
	require.Len(t, objs, 2)
	assert.Equal(t, "t1", objs[0].Key)
	assert.Equal(t, "Bergen", objs[0].DestinationName)
}

func TestStore_ChildChangedReplacesAtSamePosition(t *testing.T) {
	s, b := newMockTripsStore(t)
	for _, k := range []string{"a", "b", "c"} {
		b.emit(model.ChildEvent{Type: model.ChildAdded, Key: k, Value: tripPayload(k)})
	}
	b.emit(model.ChildEvent{Type: model.ChildChanged, Key: "b", Value: tripPayload("B!")})

	objs := s.Objects()
	assert.Equal(t, []string{"a", "b", "c"}, keys(objs))
	assert.Equal(t, "B!", objs[1].DestinationName)
}

func TestStore_ChildChangedUnknownKeyIgnored(t *testing.T) {
	s, b := newMockTripsStore(t)
	var notified int
	s.OnChange(func([]model.Trip) { notified++ })

	b.emit(model.ChildEvent{Type: model.ChildChanged, Key: "ghost", Value: tripPayload("x")})
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, notified)
}

func TestStore_ChildRemovedIsIdempotent(t *testing.T) {
	s, b := newMockTripsStore(t)
	var notified int
	s.OnChange(func([]model.Trip) { notified++ })

	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t1", Value: tripPayload("Oslo")})
	b.emit(model.ChildEvent{Type: model.ChildRemoved, Key: "t1"})
	b.emit(model.ChildEvent{Type: model.ChildRemoved, Key: "t1"})

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 2, notified)
}

func TestStore_NonObjectPayloadSkipped(t *testing.T) {
	s, b := newMockTripsStore(t)
	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t1", Value: "not an object"})
	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t2", Value: tripPayload("Oslo")})
	assert.Equal(t, []string{"t2"}, keys(s.Objects()))
}

func TestStore_UpsertWithKeySets(t *testing.T) {
	s, b := newMockTripsStore(t)
	trip := model.Trip{Key: "t1", DestinationName: "Oslo"}
	b.On("Set", mock.Anything, "/trips/u1/t1", mock.AnythingOfType("map[string]interface {}")).Return(nil)

	key, err := s.Upsert(context.Background(), trip).Result()
	require.NoError(t, err)
	assert.Equal(t, "t1", key)
	assert.Equal(t, 0, s.Len())
	b.AssertExpectations(t)
}

func TestStore_UpsertWithoutKeyPushes(t *testing.T) {
	s, b := newMockTripsStore(t)
	b.On("Push", mock.Anything, "/trips/u1", mock.Anything).Return("t9", nil)

	key, err := s.Upsert(context.Background(), model.Trip{DestinationName: "Oslo"}).Result()
	require.NoError(t, err)
	assert.Equal(t, "t9", key)
	b.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_WriteFailureLeavesCollectionUntouched(t *testing.T) {
	s, b := newMockTripsStore(t)
	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t1", Value: tripPayload("Oslo")})

	boom := errors.New("permission denied")
	b.On("Set", mock.Anything, "/trips/u1/t1", mock.Anything).Return(boom)
	b.On("Remove", mock.Anything, "/trips/u1/t1").Return(boom)

	_, err := s.Upsert(context.Background(), model.Trip{Key: "t1", DestinationName: "Rome"}).Result()
	assert.Equal(t, boom, err)
	_, err = s.Remove(context.Background(), "t1").Result()
	assert.Equal(t, boom, err)

	trip, ok := s.Find("t1")
	require.True(t, ok)
	assert.Equal(t, "Oslo", trip.DestinationName)
}

func TestStore_UpsertRejectsInvalidKey(t *testing.T) {
	s, _ := newMockTripsStore(t)
	_, err := s.Upsert(context.Background(), model.Trip{Key: "a/b"}).Result()
	assert.ErrorIs(t, err, apperrors.ErrInvalidKey)
}

func TestStore_RemoveLocalThenRemoteRemovalIsNoop(t *testing.T) {
	s, b := newMockTripsStore(t)
	var notified int
	s.OnChange(func([]model.Trip) { notified++ })
	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t1", Value: tripPayload("Oslo")})

	assert.True(t, s.RemoveLocal("t1"))
	assert.False(t, s.RemoveLocal("t1"))
	b.emit(model.ChildEvent{Type: model.ChildRemoved, Key: "t1"})

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 2, notified)
}

func TestStore_ClosedStoreIgnoresEventsAndWrites(t *testing.T) {
	b := &mockBackend{}
	s, err := NewTripsStore(context.Background(), b, "u1", dispatch.Immediate{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	b.emit(model.ChildEvent{Type: model.ChildAdded, Key: "t1", Value: tripPayload("Oslo")})
	assert.Equal(t, 0, s.Len())

	_, err = s.Upsert(context.Background(), model.Trip{}).Result()
	assert.ErrorIs(t, err, apperrors.ErrStoreClosed)
	_, err = s.Remove(context.Background(), "t1").Result()
	assert.ErrorIs(t, err, apperrors.ErrStoreClosed)
}

func TestNewTripsStore_RejectsBadUID(t *testing.T) {
	_, err := NewTripsStore(context.Background(), &mockBackend{}, "", dispatch.Immediate{}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidKey)
}

func TestStore_PushedTripArrivesOnceThroughSubscription(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(memory.WithKeyGenerator(func() string { return "t9" }))
	main := dispatch.NewQueue()
	defer main.Close()

	s, err := NewTripsStore(ctx, backend, "u1", main, nil)
	require.NoError(t, err)
	defer s.Close()

	trip := model.Trip{
		DestinationName: "Lisbon",
		StartDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	key, err := s.Upsert(ctx, trip).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t9", key)

	require.Eventually(t, func() bool { return s.Len() == 1 }, time.Second, 5*time.Millisecond)
	got, ok := s.Find("t9")
	require.True(t, ok)
	assert.Equal(t, "Lisbon", got.DestinationName)
	assert.Equal(t, trip.StartDate, got.StartDate)

	// a second write of the same key changes in place
	got.Comment = "updated"
	_, err = s.Upsert(ctx, got).Wait(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		tr, _ := s.Find("t9")
		return tr.Comment == "updated"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.Len())

	_, err = s.Remove(ctx, "t9").Wait(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_CompletionDeliveredOnMain(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	main := dispatch.NewQueue()
	defer main.Close()

	s, err := NewUsersStore(ctx, backend, main, nil)
	require.NoError(t, err)
	defer s.Close()

	done := make(chan int, 1)
	s.Upsert(ctx, model.User{Name: "Ann", Email: "ann@example.com"}).Then(s.Main(), func(key string, err error) {
		assert.NoError(t, err)
		assert.NotEmpty(t, key)
		done <- s.Len()
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion not delivered")
	}
}
