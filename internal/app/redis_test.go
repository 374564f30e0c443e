package app

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestKeyCollection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		cmd  redis.Cmder
		want string
	}{
		{redis.NewStringCmd(ctx, "get", "lock:dispatch:expiry"), "lock"},
		{redis.NewStringCmd(ctx, "get", "idempotency:u1:k1"), "idempotency"},
		{redis.NewIntCmd(ctx, "zrem", "drivers:online:locations", "d1"), "drivers"},
		{redis.NewStringCmd(ctx, "get", "plain"), "plain"},
		{redis.NewStatusCmd(ctx, "ping"), "redis"},
	}
	for _, tt := range tests {
		if got := keyCollection(tt.cmd); got != tt.want {
			t.Errorf("%v: got %q, want %q", tt.cmd.Args(), got, tt.want)
		}
	}
}
