// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry wraps fallible remote operations in exponential
// backoff with jitter.  Every remote call in this program goes
// through one Backoff so that no caller duplicates the retry loop.
package retry

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
)

// Classifier reports whether an error is worth retrying.
type Classifier func(error) bool

// Backoff holds the retry schedule.  The zero value is not usable;
// call Default or fill every field.
type Backoff struct {
	// Base is the delay before the second attempt.
	Base time.Duration

	// Factor multiplies the delay after each failed attempt.
	Factor float64

	// Max caps the delay between attempts, pre-jitter.
	Max time.Duration

	// MaxAttempts bounds the total number of calls to the
	// operation.
	MaxAttempts int
}

// Default returns the schedule used throughout the program: 1s base,
// doubling, capped at 60s, at most 6 attempts.
func Default() Backoff {
	return Backoff{
		Base:        time.Second,
		Factor:      2,
		Max:         time.Minute,
		MaxAttempts: 6,
	}
}

// Do calls op until it succeeds, the attempt budget is spent, or
// retryable rejects the error.  The delay before attempt n+1 is
// min(Max, Base*Factor^(n-1)) scaled by a uniform multiplier in
// [0.5, 1.5).  Sleeps honor ctx cancellation.  Do mutates no shared
// state; sleeping is its only side effect.
func (b Backoff) Do(ctx context.Context, op func() error, retryable Classifier) error {
	delay := b.Base
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if attempt >= b.MaxAttempts || !retryable(err) {
			return err
		}
		if delay > b.Max {
			delay = b.Max
		}
		jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay = time.Duration(float64(delay) * b.Factor)
	}
}

// Transient is the default Classifier.  Network timeouts and
// connection failures are retryable, as are mail service responses
// 429, 500, 502, 503 and 504.  Everything else is permanent.
func Transient(err error) bool {
	switch cause := errors.Cause(err).(type) {
	case *googleapi.Error:
		switch cause.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	case net.Error:
		return true
	}
	return false
}
