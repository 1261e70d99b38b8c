// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package daemon

import (
	"testing"

	"gopkg.in/tomb.v2"
)

// MockComponent is a daemon component that does not track anything. It
// does not need to be started.
type MockComponent struct {
	lifecycle
}

// NewMock creates a mock daemon component.
func NewMock(t *testing.T) Component {
	t.Helper()
	return &MockComponent{lifecycle: newLifecycle()}
}

// Start does nothing.
func (*MockComponent) Start() error {
	return nil
}

// Stop requests termination.
func (c *MockComponent) Stop() error {
	c.Terminate()
	return nil
}

// Track does nothing.
func (*MockComponent) Track(*tomb.Tomb, string) {}
