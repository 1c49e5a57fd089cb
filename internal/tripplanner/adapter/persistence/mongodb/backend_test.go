package mongodb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/model"
)

type BackendTestSuite struct {
	suite.Suite
	backend *Backend
	cfg     config.MongoConfig
}

func (s *BackendTestSuite) SetupTest() {
	cfg := config.DefaultConfig().Mongo
	cfg.ConnectTimeout = 2 * time.Second
	cfg.Database = "trip_planner_test"
	cfg.Collection = "nodes_" + uuid.NewString()
	s.cfg = cfg

	ctx := context.Background()
	client, err := Connect(ctx, cfg)
	if err != nil {
		s.T().Skip("MongoDB not available for testing:", err)
		return
	}
	n := 0
	b, err := New(ctx, client, cfg, nil, WithKeyGenerator(func() string {
		n++
		return fmt.Sprintf("k%d", n)
	}))
	if err != nil {
		_ = client.Disconnect(ctx)
		s.T().Skip("Failed to create backend for testing:", err)
		return
	}
	// transactions and change streams need a replica set
	if err := b.Set(ctx, "/ping", true); err != nil {
		_ = b.Close()
		s.T().Skip("MongoDB replica set not available for testing:", err)
		return
	}
	require.NoError(s.T(), b.Remove(ctx, "/ping"))
	s.backend = b
}

func (s *BackendTestSuite) TearDownTest() {
	if s.backend != nil {
		_ = s.backend.coll.Drop(context.Background())
		_ = s.backend.Close()
		s.backend = nil
	}
}

func (s *BackendTestSuite) TestSetGetRemove() {
	ctx := context.Background()
	trip := map[string]interface{}{"destinationName": "Rome", "destinationLat": 41.9}
	s.Require().NoError(s.backend.Set(ctx, "/trips/u1/t1", trip))

	got, err := s.backend.Get(ctx, "/trips/u1/t1")
	s.Require().NoError(err)
	s.Equal(trip, got)

	got, err = s.backend.Get(ctx, "/trips")
	s.Require().NoError(err)
	s.Equal(map[string]interface{}{"u1": map[string]interface{}{"t1": trip}}, got)

	s.Require().NoError(s.backend.Remove(ctx, "/trips/u1/t1"))
	got, err = s.backend.Get(ctx, "/trips")
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *BackendTestSuite) TestPushAndUpdate() {
	ctx := context.Background()
	key, err := s.backend.Push(ctx, "/trips/u1", map[string]interface{}{"comment": "a"})
	s.Require().NoError(err)
	s.Equal("k1", key)

	s.Require().NoError(s.backend.Update(ctx, "/trips/u1/k1", map[string]interface{}{"comment": "b", "extra/x": 1}))
	got, err := s.backend.Get(ctx, "/trips/u1/k1")
	s.Require().NoError(err)
	s.Equal(map[string]interface{}{"comment": "b", "extra": map[string]interface{}{"x": 1.0}}, got)
}

func (s *BackendTestSuite) TestLeafReplacedByObject() {
	ctx := context.Background()
	s.Require().NoError(s.backend.Set(ctx, "/a", "leaf"))
	s.Require().NoError(s.backend.Set(ctx, "/a/b", 1))
	got, err := s.backend.Get(ctx, "/a")
	s.Require().NoError(err)
	s.Equal(map[string]interface{}{"b": 1.0}, got)
}

func (s *BackendTestSuite) TestSubscribe() {
	ctx := context.Background()
	s.Require().NoError(s.backend.Set(ctx, "/trips/u1/a", map[string]interface{}{"comment": "a"}))

	var (
		mu     sync.Mutex
		events []model.ChildEvent
	)
	sub, err := s.backend.Subscribe(ctx, "/trips/u1", func(e model.ChildEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	s.Require().NoError(err)
	defer sub.Unsubscribe()

	waitFor := func(n int) []model.ChildEvent {
		s.Require().Eventually(func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(events) >= n
		}, 5*time.Second, 20*time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return append([]model.ChildEvent(nil), events...)
	}

	got := waitFor(1)
	s.Equal(model.ChildAdded, got[0].Type)
	s.Equal("a", got[0].Key)

	s.Require().NoError(s.backend.Set(ctx, "/trips/u1/a/comment", "changed"))
	got = waitFor(2)
	s.Equal(model.ChildChanged, got[1].Type)
	s.Equal(map[string]interface{}{"comment": "changed"}, got[1].Value)

	s.Require().NoError(s.backend.Remove(ctx, "/trips/u1/a"))
	got = waitFor(3)
	s.Equal(model.ChildRemoved, got[2].Type)
}

func TestBackendSuite(t *testing.T) {
	suite.Run(t, new(BackendTestSuite))
}

func TestBackend_InvalidPath(t *testing.T) {
	b := &Backend{}
	_, err := b.Get(context.Background(), "/a.b")
	assert.Error(t, err)
	assert.Error(t, b.Set(context.Background(), "/a$", 1))
}
