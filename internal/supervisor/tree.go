// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/tomtom215/leadsync/internal/queue"
)

// Layer names, as they appear in supervisor events.
const (
	LayerData      = "data-layer"
	LayerMessaging = "messaging-layer"
	LayerAPI       = "api-layer"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SupervisorTree is the root of the service hierarchy, split into data,
// messaging and api layers.
type SupervisorTree struct {
	root      *suture.Supervisor
	data      *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
	logger    *slog.Logger
	config    TreeConfig

	mu     sync.Mutex
	layout map[string][]string
}

// NewSupervisorTree builds the tree. Zero config fields take DefaultTreeConfig values.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	// Children inherit the EventHook when added to the root.
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("leadsync", rootSpec)
	data := suture.New(LayerData, childSpec)
	messaging := suture.New(LayerMessaging, childSpec)
	api := suture.New(LayerAPI, childSpec)

	// Messaging first: the router should be subscribing by the time the
	// dispatcher publishes. The dispatcher still gates on queue readiness.
	root.Add(messaging)
	root.Add(data)
	root.Add(api)

	return &SupervisorTree{
		root:      root,
		data:      data,
		messaging: messaging,
		api:       api,
		logger:    logger,
		config:    config,
		layout:    make(map[string][]string),
	}, nil
}

// Root returns the root supervisor.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddDataService adds a service to the data layer: the queue dispatcher,
// activity flusher, sync sweeper and store GC.
func (t *SupervisorTree) AddDataService(svc suture.Service) suture.ServiceToken {
	t.record(LayerData, svc)
	return t.data.Add(svc)
}

// AddMessagingService adds a service to the messaging layer (the watermill router).
func (t *SupervisorTree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	t.record(LayerMessaging, svc)
	return t.messaging.Add(svc)
}

// AddAPIService adds a service to the API layer.
func (t *SupervisorTree) AddAPIService(svc suture.Service) suture.ServiceToken {
	t.record(LayerAPI, svc)
	return t.api.Add(svc)
}

// AddQueue places both halves of the task queue: the router in the messaging
// layer and the dispatcher in the data layer. A crash of either restarts only
// that half; in-flight tasks are recovered from their leases.
func (t *SupervisorTree) AddQueue(q *queue.Queue) {
	t.AddMessagingService(q.RouterService())
	t.AddDataService(q.Dispatcher())
}

// Layout returns the service names added to each layer, in order.
func (t *SupervisorTree) Layout() map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]string, len(t.layout))
	for layer, names := range t.layout {
		out[layer] = append([]string(nil), names...)
	}
	return out
}

func (t *SupervisorTree) record(layer string, svc suture.Service) {
	name := fmt.Sprintf("%T", svc)
	if s, ok := svc.(fmt.Stringer); ok {
		name = s.String()
	}
	t.mu.Lock()
	t.layout[layer] = append(t.layout[layer], name)
	t.mu.Unlock()
}

// Serve runs the tree until ctx is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine and returns its exit channel.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that did not stop within ShutdownTimeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
