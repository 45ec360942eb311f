// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/syncerr"
)

// Message metadata keys.
const (
	metaTaskName      = "task_name"
	metaTaskKey       = "task_key"
	metaCorrelationID = "correlation_id"
	metaDeadLettered  = "dead_lettered"
)

// HandlerFunc runs one task. A nil error completes the task; any other error
// is passed to the RetryPolicy.
type HandlerFunc func(ctx context.Context, task Task) error

// RetryPolicy decides whether and when a failed task runs again.
// policy.Policy implements it.
type RetryPolicy interface {
	RetryDelay(err error, attempt int) (time.Duration, bool)
}

// Config holds queue timing and topic settings.
type Config struct {
	PollInterval  time.Duration
	LeaseDuration time.Duration
	JobTimeout    time.Duration
	BatchSize     int

	SyncTopic    string
	WebhookTopic string
	PoisonTopic  string

	RouterRetryCount           int
	RouterRetryInitialInterval time.Duration
	RouterCloseTimeout         time.Duration
}

// ConfigFrom maps the service configuration onto Config.
//
//nolint:gocritic // config passed once at construction
func ConfigFrom(q config.QueueConfig, jobTimeout time.Duration) Config {
	return Config{
		PollInterval:               q.PollInterval,
		LeaseDuration:              q.LeaseDuration,
		JobTimeout:                 jobTimeout,
		BatchSize:                  q.BatchSize,
		SyncTopic:                  q.SyncTopic,
		WebhookTopic:               q.WebhookTopic,
		PoisonTopic:                q.PoisonTopic,
		RouterRetryCount:           q.RouterRetryCount,
		RouterRetryInitialInterval: q.RouterRetryInitialInterval,
		RouterCloseTimeout:         q.RouterCloseTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.LeaseDuration <= c.JobTimeout {
		c.LeaseDuration = c.JobTimeout + time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.SyncTopic == "" {
		c.SyncTopic = "leadsync.sync"
	}
	if c.WebhookTopic == "" {
		c.WebhookTopic = "leadsync.webhook"
	}
	if c.PoisonTopic == "" {
		c.PoisonTopic = "leadsync.poison"
	}
	if c.RouterRetryInitialInterval <= 0 {
		c.RouterRetryInitialInterval = 100 * time.Millisecond
	}
	if c.RouterCloseTimeout <= 0 {
		c.RouterCloseTimeout = 30 * time.Second
	}
}

// Topics returns every topic the queue publishes to.
func (c *Config) Topics() []string {
	return []string{c.SyncTopic, c.WebhookTopic, c.PoisonTopic}
}

// Queue ties the task store to a watermill transport.
type Queue struct {
	tasks     *TaskStore
	transport *Transport
	policy    RetryPolicy
	cfg       Config
	logger    zerolog.Logger
	wmLogger  watermill.LoggerAdapter

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	ready     chan struct{}
	readyOnce sync.Once
}

// New returns a Queue storing tasks in st and moving them over transport.
//
//nolint:gocritic // config passed once at construction
func New(st *store.Store, transport *Transport, policy RetryPolicy, cfg Config, logger zerolog.Logger) *Queue {
	cfg.applyDefaults()
	return &Queue{
		tasks:     NewTaskStore(st),
		transport: transport,
		policy:    policy,
		cfg:       cfg,
		logger:    logger,
		wmLogger:  logging.NewWatermillAdapter(logger),
		handlers:  make(map[string]HandlerFunc),
		ready:     make(chan struct{}),
	}
}

// Tasks exposes the underlying task store.
func (q *Queue) Tasks() *TaskStore {
	return q.tasks
}

// Handle registers fn for tasks named name. Register before the router starts.
func (q *Queue) Handle(name string, fn HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = fn
}

func (q *Queue) topicFor(name string) (string, error) {
	switch name {
	case TaskSync:
		return q.cfg.SyncTopic, nil
	case TaskWebhook:
		return q.cfg.WebhookTopic, nil
	default:
		return "", fmt.Errorf("%w: unknown task name %q", ErrInvalidTask, name)
	}
}

// Enqueue persists task. It is durable once Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if _, err := q.topicFor(task.Name); err != nil {
		return err
	}
	if task.ID == "" || task.CreatedAt.IsZero() {
		fresh := newTask(task.Name, task.Key, 0)
		task.ID, task.CreatedAt = fresh.ID, fresh.CreatedAt
		if task.RunAt.IsZero() {
			task.RunAt = fresh.RunAt
		}
	}

	stored, created, err := q.tasks.Put(ctx, task)
	if err != nil {
		return err
	}
	if created {
		metrics.RecordEnqueue(task.Name)
	}
	logging.Ctx(ctx, q.logger).Debug().
		Str("task", task.Name).
		Str("key", task.Key).
		Str("task_id", stored.ID).
		Time("run_at", stored.RunAt).
		Bool("merged", !created).
		Msg("Task enqueued")
	return nil
}

// DeadLetters lists tasks whose attempts were exhausted or that failed permanently.
func (q *Queue) DeadLetters(ctx context.Context) ([]Task, error) {
	return q.tasks.DeadLetters(ctx)
}

// HasLive reports whether a task for name and key is pending or in flight.
func (q *Queue) HasLive(ctx context.Context, name, key string) (bool, error) {
	return q.tasks.HasLive(ctx, name, key)
}

// Ready is closed once the router is consuming.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// DispatchDue leases due tasks and publishes them. A task whose publish fails
// stays leased and is dispatched again when the lease expires.
func (q *Queue) DispatchDue(ctx context.Context) (int, error) {
	tasks, err := q.tasks.LeaseDue(ctx, q.cfg.BatchSize, q.cfg.LeaseDuration)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range tasks {
		t := tasks[i]
		topic, err := q.topicFor(t.Name)
		if err != nil {
			q.deadLetter(ctx, t, err.Error())
			continue
		}
		msg, err := newTaskMessage(t)
		if err != nil {
			q.deadLetter(ctx, t, err.Error())
			continue
		}
		if err := q.transport.Publisher.Publish(topic, msg); err != nil {
			q.logger.Error().Err(err).Str("task_id", t.ID).Str("topic", topic).Msg("Failed to publish task")
			continue
		}
		published++
	}
	q.refreshPendingGauge(ctx)
	return published, nil
}

func newTaskMessage(t Task) (*message.Message, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaTaskName, t.Name)
	msg.Metadata.Set(metaTaskKey, t.Key)
	msg.Metadata.Set(metaCorrelationID, logging.GenerateCorrelationID())
	return msg, nil
}

func (q *Queue) refreshPendingGauge(ctx context.Context) {
	live, err := q.tasks.Live(ctx)
	if err != nil {
		return
	}
	metrics.QueuePending.Set(float64(len(live)))
}

// NewRouter builds a watermill router consuming every registered task topic
// plus the poison topic. Middleware, innermost first: Recoverer, Retry,
// PoisonQueue, so a panic is retried before the message is poisoned.
func (q *Queue) NewRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: q.cfg.RouterCloseTimeout}, q.wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	poison, err := middleware.PoisonQueue(q.transport.Publisher, q.cfg.PoisonTopic)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	router.AddMiddleware(
		poison,
		middleware.Retry{
			MaxRetries:      q.cfg.RouterRetryCount,
			InitialInterval: q.cfg.RouterRetryInitialInterval,
			MaxInterval:     10 * q.cfg.RouterRetryInitialInterval,
			Multiplier:      2.0,
			Logger:          q.wmLogger,
		}.Middleware,
		middleware.Recoverer,
	)

	q.mu.Lock()
	defer q.mu.Unlock()
	for name, fn := range q.handlers {
		topic, err := q.topicFor(name)
		if err != nil {
			return nil, err
		}
		router.AddConsumerHandler("leadsync-"+name, topic, q.transport.Subscriber, q.consume(fn))
	}
	router.AddConsumerHandler("leadsync-poison", q.cfg.PoisonTopic, q.transport.Subscriber, q.consumePoison)
	return router, nil
}

// consume runs fn for one task message and settles the task.
func (q *Queue) consume(fn HandlerFunc) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var task Task
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			return fmt.Errorf("decode task message %s: %w", msg.UUID, err)
		}

		ctx := msg.Context()
		if id := msg.Metadata.Get(metaCorrelationID); id != "" {
			ctx = logging.ContextWithCorrelationID(ctx, id)
		} else {
			ctx = logging.ContextWithNewCorrelationID(ctx)
		}
		metrics.RecordDispatch(task.Name)

		jobCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
		err := fn(jobCtx, task)
		cancel()

		// Settle on a detached context: a job that hit its timeout must still
		// record its outcome.
		q.settle(context.WithoutCancel(ctx), task, err)
		return nil
	}
}

func (q *Queue) settle(ctx context.Context, task Task, cause error) {
	log := logging.Ctx(ctx, q.logger)
	if cause == nil {
		if err := q.tasks.Complete(ctx, task); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to complete task; it will rerun after its lease expires")
		}
		return
	}

	delay, retry := q.policy.RetryDelay(cause, task.Attempt)
	if !retry {
		q.deadLetter(ctx, task, cause.Error())
		return
	}

	kind := syncerr.Classify(cause).String()
	metrics.RecordRetry(task.Name, kind)
	kept, err := q.tasks.Reschedule(ctx, task, delay, cause.Error())
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to reschedule task; it will rerun after its lease expires")
		return
	}
	log.Info().
		Str("task", task.Name).
		Str("key", task.Key).
		Int("attempt", task.Attempt+1).
		Str("kind", kind).
		Dur("delay", delay).
		Bool("superseded", !kept).
		Err(cause).
		Msg("Task scheduled for retry")
}

// deadLetter persists task under dead: and announces it on the poison topic.
func (q *Queue) deadLetter(ctx context.Context, task Task, reason string) {
	log := logging.Ctx(ctx, q.logger)
	dead, err := q.tasks.DeadLetter(ctx, task, reason)
	if err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to dead-letter task")
		return
	}
	metrics.RecordDeadLetter(task.Name)
	log.Error().
		Str("task", task.Name).
		Str("key", task.Key).
		Int("attempts", task.Attempt+1).
		Str("reason", reason).
		Msg("Task dead-lettered")

	msg, err := newTaskMessage(dead)
	if err != nil {
		return
	}
	msg.Metadata.Set(metaDeadLettered, "true")
	if err := q.transport.Publisher.Publish(q.cfg.PoisonTopic, msg); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to publish dead letter")
	}
}

// consumePoison receives both explicit dead letters and messages the
// PoisonQueue middleware gave up on. The latter are dead-lettered here so the
// task does not rerun forever after its lease expires.
func (q *Queue) consumePoison(msg *message.Message) error {
	var task Task
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		q.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable poison message")
		return nil
	}
	if msg.Metadata.Get(metaDeadLettered) == "true" {
		return nil
	}

	reason := msg.Metadata.Get(middleware.ReasonForPoisonedKey)
	if reason == "" {
		reason = "poisoned by router"
	}
	ctx := context.WithoutCancel(msg.Context())
	if _, err := q.tasks.Get(ctx, task.ID); errors.Is(err, store.ErrNotFound) {
		return nil
	}
	q.deadLetter(ctx, task, reason)
	return nil
}

// Close closes the transport.
func (q *Queue) Close() error {
	return q.transport.Close()
}
