package retry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
)

func fastBackoff() Backoff {
	return Backoff{
		Base:        time.Microsecond,
		Factor:      2,
		Max:         time.Millisecond,
		MaxAttempts: 6,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastBackoff().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: http.StatusServiceUnavailable}
		}
		return nil
	}, Transient)
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := &googleapi.Error{Code: http.StatusNotFound}
	calls := 0
	err := fastBackoff().Do(context.Background(), func() error {
		calls++
		return permanent
	}, Transient)
	if errors.Cause(err) != permanent {
		t.Fatalf("Do() = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastBackoff().Do(context.Background(), func() error {
		calls++
		return &googleapi.Error{Code: http.StatusTooManyRequests}
	}, Transient)
	if err == nil {
		t.Fatal("Do() = nil, want error")
	}
	if calls != 6 {
		t.Errorf("op called %d times, want 6", calls)
	}
}

func TestDoHonorsContextDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := Backoff{Base: time.Hour, Factor: 2, Max: time.Hour, MaxAttempts: 6}
	err := b.Do(ctx, func() error {
		return &googleapi.Error{Code: http.StatusInternalServerError}
	}, Transient)
	if errors.Cause(err) != context.Canceled {
		t.Errorf("Do() = %v, want %v", err, context.Canceled)
	}
}

func TestTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"server error", &googleapi.Error{Code: 500}, true},
		{"bad gateway", &googleapi.Error{Code: 502}, true},
		{"unavailable", &googleapi.Error{Code: 503}, true},
		{"gateway timeout", &googleapi.Error{Code: 504}, true},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"wrapped server error", errors.Wrap(&googleapi.Error{Code: 500}, "listing"), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := Transient(tc.err); got != tc.want {
			t.Errorf("%s: Transient(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}
