// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package httpserver handles the internal web server for cnetflow.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"path"
	"runtime"
	"time"

	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"gopkg.in/tomb.v2"

	"cnetflow/common/daemon"
	"cnetflow/common/reporter"
)

// Component represents the HTTP component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	t      tomb.Tomb
	config Configuration

	mux         *http.ServeMux
	metrics     metrics
	address     net.Addr
	serviceName string

	// GinRouter is the router exposed for /api
	GinRouter  *gin.Engine
	cacheStore persist.CacheStore
}

// Dependencies define the dependencies of the HTTP component.
type Dependencies struct {
	Daemon daemon.Component
}

// New creates a new HTTP component.
func New(r *reporter.Reporter, serviceName string, configuration Configuration, dependencies Dependencies) (*Component, error) {
	c := Component{
		r:      r,
		d:      &dependencies,
		config: configuration,

		mux:         http.NewServeMux(),
		serviceName: serviceName,
		GinRouter:   gin.New(),
	}
	c.initMetrics()
	c.d.Daemon.Track(&c.t, "common/http")
	c.GinRouter.Use(gin.Recovery())
	c.AddHandler("/api/", c.GinRouter)
	if configuration.Profiler {
		c.enableProfiler()
	}
	return &c, nil
}

// enableProfiler exposes the pprof endpoints and enables block and
// mutex profiling.
func (c *Component) enableProfiler() {
	c.mux.HandleFunc("/debug/pprof/", pprof.Index)
	for name, fn := range map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	} {
		c.mux.HandleFunc("/debug/pprof/"+name, fn)
	}
	runtime.SetBlockProfileRate(int((10 * time.Millisecond).Nanoseconds()))
	runtime.SetMutexProfileFraction(1000)
}

// AddHandler registers a new handler for the web server
func (c *Component) AddHandler(location string, handler http.Handler) {
	logger := c.r.With().Str("handler", location).Logger()
	handler = hlog.AccessHandler(func(r *http.Request, status, size int, elapsed time.Duration) {
		level := zerolog.InfoLevel
		switch path.Base(r.URL.Path) {
		case "metrics", "healthcheck":
			level = zerolog.DebugLevel
		}
		hlog.FromRequest(r).WithLevel(level).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Str("ip", r.RemoteAddr).
			Str("user-agent", r.Header.Get("User-Agent")).
			Int("status", status).
			Int("size", size).
			Dur("duration", elapsed).
			Msg("HTTP request")
	})(handler)
	handler = hlog.NewHandler(logger)(handler)
	labels := prometheus.Labels{"handler": location}
	handler = promhttp.InstrumentHandlerInFlight(c.metrics.inflights,
		promhttp.InstrumentHandlerDuration(c.metrics.durations.MustCurryWith(labels),
			promhttp.InstrumentHandlerCounter(c.metrics.requests.MustCurryWith(labels),
				promhttp.InstrumentHandlerResponseSize(c.metrics.sizes.MustCurryWith(labels), handler))))
	c.mux.Handle(location, handler)
}

type listenerConfiguration struct {
	network string
	address string
	// optional listeners only log a failure
	optional bool
}

// listeners returns the list of listeners to setup. In addition to the
// configured TCP listener, abstract Unix sockets are used on Linux for
// the healthcheck command.
func (c *Component) listeners() []listenerConfiguration {
	result := []listenerConfiguration{}
	if c.config.Listen != "" {
		result = append(result, listenerConfiguration{"tcp", c.config.Listen, false})
	}
	if runtime.GOOS == "linux" {
		result = append(result,
			listenerConfiguration{"unix", "@cnetflow", true},
			listenerConfiguration{"unix", fmt.Sprintf("@cnetflow/%s", c.serviceName), true})
	}
	return result
}

// Start starts the HTTP component.
func (c *Component) Start() error {
	var err error
	c.cacheStore, err = c.config.Cache.Config.New()
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           c.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, lc := range c.listeners() {
		c.r.Info().Str("listen", lc.address).Msg("starting HTTP server")
		listener, err := net.Listen(lc.network, lc.address)
		if err != nil {
			if !lc.optional {
				return fmt.Errorf("unable to listen to %v: %w", lc.address, err)
			}
			c.r.Info().Err(err).Str("listen", lc.address).Msg("cannot start HTTP server")
			continue
		}
		if lc.network == "tcp" {
			c.address = listener.Addr()
		}
		c.t.Go(func() error {
			if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
				c.r.Err(err).Str("listen", lc.address).Msg("unable to start HTTP server")
				return fmt.Errorf("unable to start HTTP server: %w", err)
			}
			return nil
		})
	}

	// Gracefully stop when asked to. Shutdown closes all listeners.
	c.t.Go(func() error {
		<-c.t.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			c.r.Err(err).Msg("unable to shutdown HTTP server")
			return fmt.Errorf("unable to shutdown HTTP server: %w", err)
		}
		return nil
	})
	return nil
}

// Stop stops the HTTP component
func (c *Component) Stop() error {
	c.r.Info().Msg("stopping HTTP component")
	defer c.r.Info().Msg("HTTP component stopped")
	c.t.Kill(nil)
	return c.t.Wait()
}

// LocalAddr returns the address the HTTP server is listening to.
func (c *Component) LocalAddr() net.Addr {
	return c.address
}

func init() {
	// No proxy for internal clients (healthcheck, sink backends)
	if transport, ok := http.DefaultTransport.(*http.Transport); ok {
		transport.Proxy = nil
	}
	http.DefaultClient.Timeout = 30 * time.Second
	gin.SetMode(gin.ReleaseMode)
}
