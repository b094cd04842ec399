// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// ATTEMPT STRATEGIES
// =============================================================================

// attempt is one entry in an ordered fallback chain.
type attempt[T any] struct {
	// name identifies the attempt in logs and failure reports.
	name string

	// retries is how many extra tries are made when retryable(err) holds.
	retries int

	// run performs the attempt. try counts from zero.
	run func(ctx context.Context, try int) (T, error)

	// retryable decides whether err warrants another try of this attempt.
	retryable func(error) bool

	// advance decides whether err lets the chain move to the next attempt.
	// A nil advance always moves on.
	advance func(error) bool

	// accept rejects a nil-error result that is still unusable.
	accept func(T) error
}

// chainResult records how a chain resolved.
type chainResult[T any] struct {
	value    T
	winner   string
	tried    []string
	attempts int
}

// runChain executes attempts in order until one succeeds, an attempt refuses
// to advance, the context ends, or the list is exhausted. The last error is
// returned when nothing succeeds.
func runChain[T any](ctx context.Context, logger *zap.Logger, backoff func(int) time.Duration, chain []attempt[T]) (chainResult[T], error) {
	var res chainResult[T]
	var lastErr error

	for i, a := range chain {
		res.tried = append(res.tried, a.name)

		for try := 0; try <= a.retries; try++ {
			if try > 0 {
				select {
				case <-ctx.Done():
					return res, ctx.Err()
				case <-time.After(backoff(try)):
				}
			}

			res.attempts++
			v, err := a.run(ctx, try)
			if err == nil && a.accept != nil {
				err = a.accept(v)
			}
			if err == nil {
				res.value = v
				res.winner = a.name
				return res, nil
			}
			lastErr = err

			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			logger.Debug("attempt failed",
				zap.String("attempt", a.name),
				zap.Int("try", try),
				zap.Error(err))

			if a.retryable == nil || !a.retryable(err) {
				break
			}
		}

		if i < len(chain)-1 && a.advance != nil && !a.advance(lastErr) {
			return res, lastErr
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no attempts configured")
	}
	return res, lastErr
}
