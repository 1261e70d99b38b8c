// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package daemon

import (
	"sync"
)

// lifecycle is the termination part shared by the real and the mock
// daemon components.
type lifecycle struct {
	terminated chan struct{}
	once       sync.Once
}

func newLifecycle() lifecycle {
	return lifecycle{terminated: make(chan struct{})}
}

// Terminated returns a channel closed when the daemon needs to terminate.
func (l *lifecycle) Terminated() <-chan struct{} {
	return l.terminated
}

// Terminate requests termination of the daemon. It can be called
// several times.
func (l *lifecycle) Terminate() {
	l.once.Do(func() { close(l.terminated) })
}
