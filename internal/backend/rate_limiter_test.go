package backend

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterSpacesRequests(t *testing.T) {
	limiter := NewRateLimiter(50)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.WaitTurn(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Fatalf("three turns took %s", elapsed)
	}
}

func TestRateLimiterHonoursCancel(t *testing.T) {
	limiter := NewRateLimiter(1)
	_ = limiter.WaitTurn(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.WaitTurn(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}
