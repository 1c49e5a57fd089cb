package contextkeys

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKey_String(t *testing.T) {
	assert.Equal(t, "trip-planner context key path", fmt.Sprint(PathKey))
}

type foreignKey string

func TestContextKeys_DoNotCollideWithOtherPackages(t *testing.T) {
	ctx := context.WithValue(context.Background(), foreignKey("userID"), "plain")
	ctx = context.WithValue(ctx, UserIDKey, "u1")

	assert.Equal(t, "u1", ctx.Value(UserIDKey))
	assert.Equal(t, "plain", ctx.Value(foreignKey("userID")))
	assert.Nil(t, ctx.Value(RequestIDKey))
}
