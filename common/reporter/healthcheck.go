// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package reporter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthcheckStatus represents an healthcheck status. Higher is worse.
type HealthcheckStatus int

const (
	// HealthcheckOK means the component works as expected.
	HealthcheckOK HealthcheckStatus = iota
	// HealthcheckWarning means the component is degraded but still working.
	HealthcheckWarning
	// HealthcheckError means the component is not working.
	HealthcheckError
)

var healthcheckStatusNames = [...]string{
	HealthcheckOK:      "ok",
	HealthcheckWarning: "warning",
	HealthcheckError:   "error",
}

func (hs HealthcheckStatus) String() string {
	if hs < 0 || int(hs) >= len(healthcheckStatusNames) {
		return "unknown"
	}
	return healthcheckStatusNames[hs]
}

// MarshalText turns a status into text.
func (hs HealthcheckStatus) MarshalText() ([]byte, error) {
	return []byte(hs.String()), nil
}

// HealthcheckResult is the outcome of a single healthcheck.
type HealthcheckResult struct {
	Status HealthcheckStatus `json:"status"`
	Reason string            `json:"reason"`
}

// MultipleHealthcheckResults is the outcome of all registered
// healthchecks. Status is the worst status of all of them.
type MultipleHealthcheckResults struct {
	Status  HealthcheckStatus            `json:"status"`
	Details map[string]HealthcheckResult `json:"details,omitempty"`
}

// HealthcheckFunc checks the health of a component. It should return
// early when the context is done.
type HealthcheckFunc func(context.Context) HealthcheckResult

// RegisterHealthcheck registers a new healthcheck under the provided
// name. Registering twice the same name replaces the previous check.
func (r *Reporter) RegisterHealthcheck(name string, hf HealthcheckFunc) {
	r.healthchecksLock.Lock()
	r.healthchecks[name] = hf
	r.healthchecksLock.Unlock()
}

// RunHealthchecks executes all healthchecks in parallel and returns a
// global status as well as a map from healthcheck names to returned
// results. A check not answering before the context is done is
// reported as an error.
func (r *Reporter) RunHealthchecks(ctx context.Context) MultipleHealthcheckResults {
	r.healthchecksLock.Lock()
	defer r.healthchecksLock.Unlock()
	results := MultipleHealthcheckResults{
		Status:  HealthcheckOK,
		Details: make(map[string]HealthcheckResult, len(r.healthchecks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, healthcheckFunc := range r.healthchecks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan HealthcheckResult, 1)
			go func() {
				done <- healthcheckFunc(ctx)
			}()
			var result HealthcheckResult
			select {
			case result = <-done:
				if ctx.Err() != nil {
					result = HealthcheckResult{HealthcheckError, "timeout during check"}
				}
			case <-ctx.Done():
				result = HealthcheckResult{HealthcheckError, "timeout during check"}
			}
			mu.Lock()
			defer mu.Unlock()
			results.Details[name] = result
			if result.Status > results.Status {
				results.Status = result.Status
			}
		}()
	}
	wg.Wait()

	return results
}

// HealthcheckHTTPHandler answers with the healthcheck results as JSON.
// The status code is 503 when at least one check is in error.
func (r *Reporter) HealthcheckHTTPHandler(gc *gin.Context) {
	ctx, cancel := context.WithTimeout(gc.Request.Context(), 5*time.Second)
	defer cancel()
	results := r.RunHealthchecks(ctx)
	if results.Status == HealthcheckError {
		gc.JSON(http.StatusServiceUnavailable, results)
		return
	}
	gc.JSON(http.StatusOK, results)
}

// ChannelHealthcheckFunc is sent to a worker which calls it to report
// its status.
type ChannelHealthcheckFunc func(HealthcheckStatus, string)

// ChannelHealthcheck builds an healthcheck for a component running a
// main loop. The check sends a ChannelHealthcheckFunc over contact and
// waits for the loop to call it. ctx is the lifetime of the component:
// once done, the component is reported as dead.
func ChannelHealthcheck(ctx context.Context, contact chan<- ChannelHealthcheckFunc) HealthcheckFunc {
	return func(checkCtx context.Context) HealthcheckResult {
		answer := make(chan HealthcheckResult, 1)
		report := func(status HealthcheckStatus, reason string) {
			select {
			case answer <- HealthcheckResult{status, reason}:
			default:
			}
		}

		select {
		case contact <- report:
		case <-ctx.Done():
			return HealthcheckResult{HealthcheckError, "dead"}
		case <-checkCtx.Done():
			return HealthcheckResult{HealthcheckError, "timeout"}
		}
		select {
		case result := <-answer:
			return result
		case <-ctx.Done():
			return HealthcheckResult{HealthcheckError, "dead"}
		case <-checkCtx.Done():
			return HealthcheckResult{HealthcheckError, "timeout"}
		}
	}
}
