// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import "errors"

var (
	// ErrMalformed is returned when a packet is truncated or inconsistent.
	// The whole packet is dropped.
	ErrMalformed = errors.New("malformed packet")
	// ErrTemplateMissing is returned when data records reference a
	// template not received yet.
	ErrTemplateMissing = errors.New("template missing")
	// ErrResourceExhausted is returned when a bounded resource (memory,
	// batch, table, queue) is full.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrUnsupported is returned for an unknown protocol version.
	ErrUnsupported = errors.New("unsupported version")
	// ErrNoFlows is returned when a packet is valid but does not contain
	// any flow record (for example, a template-only packet).
	ErrNoFlows = errors.New("no flow record")
)
