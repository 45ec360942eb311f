// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"time"
)

// RouterService runs the watermill router as a suture service. Each Serve
// builds a fresh router, since a watermill router cannot be restarted.
type RouterService struct {
	q *Queue
}

// RouterService returns the consuming side of the queue.
func (q *Queue) RouterService() *RouterService {
	return &RouterService{q: q}
}

func (s *RouterService) Serve(ctx context.Context) error {
	router, err := s.q.NewRouter()
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-router.Running():
			s.q.readyOnce.Do(func() { close(s.q.ready) })
		case <-ctx.Done():
		}
	}()

	if err := router.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *RouterService) String() string {
	return "queue-router"
}

// Dispatcher polls the task store and publishes due tasks.
type Dispatcher struct {
	q *Queue
}

// Dispatcher returns the publishing side of the queue.
func (q *Queue) Dispatcher() *Dispatcher {
	return &Dispatcher{q: q}
}

// Serve waits for the router to consume, then dispatches every PollInterval.
func (d *Dispatcher) Serve(ctx context.Context) error {
	select {
	case <-d.q.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(d.q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.q.DispatchDue(ctx); err != nil && ctx.Err() == nil {
			d.q.logger.Error().Err(err).Msg("Task dispatch failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) String() string {
	return "queue-dispatcher"
}
