// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package stack inspects the call stack to find which package of the
// collector is emitting a log or registering a metric.
package stack

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// Call is a program counter for a single function invocation.
type Call uintptr

// Trace is a sequence of function invocations, innermost first.
type Trace []Call

var pcStackPool = sync.Pool{
	New: func() any {
		pcs := make([]uintptr, 1000)
		return &pcs
	},
}

// Callers return the list of callers from the current stack.
func Callers() Trace {
	ptr := pcStackPool.Get().(*[]uintptr)
	defer pcStackPool.Put(ptr)
	pcs := *ptr
	n := runtime.Callers(2, pcs)
	trace := make(Trace, n)
	for i, pc := range pcs[:n] {
		trace[i] = Call(pc)
	}
	return trace
}

func (pc Call) function() (*runtime.Func, uintptr) {
	// The program counter points to the instruction after the call.
	fixed := uintptr(pc) - 1
	return runtime.FuncForPC(fixed), fixed
}

// FunctionName returns the fully qualified function name for the call
// point, including the package path.
func (pc Call) FunctionName() string {
	fn, _ := pc.function()
	if fn == nil {
		return "(nofunc)"
	}
	return fn.Name()
}

// SourceFile returns the source file, prefixed by the package path, and
// optionally the line number of the call point.
func (pc Call) SourceFile(withLine bool) string {
	fn, fixed := pc.function()
	if fn == nil {
		return "(nosource)"
	}
	file, line := fn.FileLine(fixed)
	name := fn.Name()

	// Keep as many path components as the function name has.
	for extra := strings.Count(file, "/") - strings.Count(name, "/"); extra > 0; extra-- {
		_, file, _ = strings.Cut(file, "/")
	}
	pkg, _, ok := strings.Cut(name, ".")
	if !ok {
		return "(nosource)"
	}
	root, _, _ := strings.Cut(pkg, "/")
	if withLine {
		return fmt.Sprintf("%s/%s:%d", root, file, line)
	}
	return fmt.Sprintf("%s/%s", root, file)
}

// ModuleName is the name of the current module (cnetflow), derived from
// the path of this package (cnetflow/common/reporter/stack).
var ModuleName = func() string {
	pkg, _, _ := strings.Cut(Callers()[0].FunctionName(), ".")
	return strings.TrimSuffix(pkg, "/common/reporter/stack")
}()
