// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package reporter

import (
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

// NewMock creates a new reporter for tests. It uses a fresh metric registry.
func NewMock(t *testing.T) *Reporter {
	t.Helper()
	r, err := New(Configuration{})
	if err != nil {
		t.Errorf("New() error:\n%+v", err)
	}
	return r
}

// GetMetrics returns a map from metric name to its value (as a
// string). It keeps only metrics matching the provided prefix, then
// strips it. When subset is provided, only metrics whose trimmed name
// start with one of the elements are kept.
func (r *Reporter) GetMetrics(prefix string, subset ...string) map[string]string {
	req := httptest.NewRequest("GET", "/api/v0/metrics", nil)
	w := httptest.NewRecorder()
	r.MetricsHTTPHandler().ServeHTTP(w, req)

	results := make(map[string]string)
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if strings.HasPrefix(line, "#") || !strings.HasPrefix(line, prefix) {
			continue
		}
		var name, value string
		if idx := strings.Index(line, "} "); idx >= 0 {
			name, value = line[:idx+1], line[idx+2:]
		} else {
			var ok bool
			if name, value, ok = strings.Cut(line, " "); !ok {
				continue
			}
		}
		name = strings.TrimPrefix(name, prefix)
		if len(subset) > 0 && !slices.ContainsFunc(subset, func(p string) bool {
			return strings.HasPrefix(name, p)
		}) {
			continue
		}
		results[name] = value
	}
	return results
}
