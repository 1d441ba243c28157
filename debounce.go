// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package revocation

import (
	"sync"
	"time"
)

// debounced runs the last function it was given once it has not been called
// for a while.
type debounced func(func())

func debounce(after time.Duration) debounced {
	var (
		mx    sync.Mutex
		timer *time.Timer
	)
	return func(f func()) {
		mx.Lock()
		defer mx.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(after, f)
	}
}
