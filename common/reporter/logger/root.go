// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package logger handles logging for the collector. This is a thin wrapper
// around zerolog adding the "caller" and "module" fields to each event. The
// module is the first package of the call stack belonging to the collector.
package logger

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cnetflow/common/reporter/stack"
)

// Logger is a logger instance. It embeds zerolog.Logger.
type Logger struct {
	zerolog.Logger
}

// New creates a new logger from the global zerolog logger.
func New(_ Configuration) (Logger, error) {
	return Logger{log.Logger.Hook(contextHook{})}, nil
}

type contextHook struct{}

// Run adds "caller" and "module" to an event.
func (contextHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	// Skip Callers(), Run() and zerolog internals
	callStack := stack.Callers()[3:]
	e.Str("caller", callStack[0].SourceFile(true))
	for _, call := range callStack {
		function := call.FunctionName()
		if module, _, ok := strings.Cut(function, "."); ok && strings.HasPrefix(module, stack.ModuleName) {
			e.Str("module", module)
			return
		}
	}
}
