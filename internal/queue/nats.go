// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/leadsync/internal/config"
)

const (
	natsReadyTimeout = 30 * time.Second
	natsAckWait      = 30 * time.Second
	natsCloseTimeout = 30 * time.Second
)

// EmbeddedServer is an in-process NATS server with JetStream enabled.
type EmbeddedServer struct {
	server *server.Server
}

// NewEmbeddedServer starts a NATS server and waits until it accepts connections.
//
//nolint:gocritic // config passed once at construction
func NewEmbeddedServer(cfg config.NATSConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName:         "leadsync",
		Host:               "127.0.0.1",
		Port:               server.RANDOM_PORT,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              true,
		NoSigs:             true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(natsReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", natsReadyTimeout)
	}
	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() error {
	s.server.Shutdown()
	s.server.WaitForShutdown()
	return nil
}

// EnsureStream creates or updates the JetStream stream covering topics.
//
//nolint:gocritic // config passed once at construction
func EnsureStream(ctx context.Context, url string, cfg config.NATSConfig, topics []string) error {
	nc, err := natsgo.Connect(url)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	maxAge := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  topics,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    maxAge,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

// NewNATSTransport connects a JetStream publisher and subscriber, starting an
// embedded server first when configured.
//
//nolint:gocritic // config passed once at construction
func NewNATSTransport(ctx context.Context, cfg config.NATSConfig, topics []string, logger watermill.LoggerAdapter) (*Transport, error) {
	t := &Transport{}
	url := cfg.URL

	if cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		t.closers = append(t.closers, srv.Shutdown)
		url = srv.ClientURL()
	}

	if err := EnsureStream(ctx, url, cfg, topics); err != nil {
		_ = t.Close()
		return nil, err
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	t.Publisher = pub
	t.closers = append(t.closers, pub.Close)

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: max(cfg.SubscribersCount, 1),
		AckWaitTimeout:   natsAckWait,
		CloseTimeout:     natsCloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(cfg.StreamName),
				natsgo.DeliverNew(),
				natsgo.AckExplicit(),
			},
			DurablePrefix:     cfg.DurableName,
			DurableCalculator: durableName,
		},
	}, logger)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	t.Subscriber = sub
	t.closers = append(t.closers, sub.Close)
	return t, nil
}

// durableName gives each topic its own durable consumer.
func durableName(prefix, topic string) string {
	return prefix + "-" + strings.ReplaceAll(topic, ".", "-")
}
