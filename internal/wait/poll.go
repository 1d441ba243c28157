// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

// Package wait polls a condition until it holds or a deadline passes.
package wait

import (
	"context"
	"time"
)

// ConditionFunc reports whether polling is done. Returning an error aborts
// polling.
type ConditionFunc func(context.Context) (done bool, err error)

// PollUntilContextTimeout runs condition every interval until it reports done,
// returns an error, or timeout elapses. If immediate is true the condition is
// run once before the first wait, even if ctx is already cancelled.
//
// The returned error is the condition's error, or the context's once the
// deadline has passed.
func PollUntilContextTimeout(ctx context.Context, interval, timeout time.Duration, immediate bool, condition ConditionFunc) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return poll(ctx, interval, immediate, condition)
}

func poll(ctx context.Context, interval time.Duration, immediate bool, condition ConditionFunc) error {
	if immediate {
		if done, err := condition(ctx); err != nil || done {
			return err
		}
	}

	t := time.NewTimer(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		// A short timer can win the select against a cancelled context,
		// never run the condition after cancellation.
		if err := ctx.Err(); err != nil {
			return err
		}

		if done, err := condition(ctx); err != nil || done {
			return err
		}
		t.Reset(interval)
	}
}
