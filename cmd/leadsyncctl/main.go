// Leadsync - Integration Sync & Webhook Ingestion Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Command leadsyncctl operates a running Leadsync server through its admin API.
//
//	leadsyncctl token --secret "$ADMIN_JWT_SECRET" > token
//	export LEADSYNC_TOKEN=$(cat token)
//	leadsyncctl status 6f1c...
//	leadsyncctl sync 6f1c...
//	leadsyncctl reset-delivery 9a02...
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/tomtom215/leadsync/internal/auth"
)

func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "leadsyncctl:", err)
		os.Exit(1)
	}
}

func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Usage:   "Admin API base URL",
			Value:   "http://localhost:8085",
			Sources: cli.EnvVars("LEADSYNC_SERVER"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Admin API bearer token",
			Sources: cli.EnvVars("LEADSYNC_TOKEN"),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
			Value: 30 * time.Second,
		},
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "leadsyncctl",
		Usage: "Operate a Leadsync server",
		Commands: []*cli.Command{
			getCommand(out, "status", "Show an integration", integrationPath),
			getCommand(out, "activity", "Show an integration's recent activity", func(id string, _ ...string) string {
				return integrationPath(id, "/activity")
			}),
			getCommand(out, "delivery", "Show a webhook delivery", deliveryPath),
			postCommand(out, "sync", "Request an immediate sync", "/sync", integrationPath),
			postCommand(out, "reactivate", "Return a suspended integration to service", "/reactivate", integrationPath),
			postCommand(out, "disconnect", "Stop syncing an integration", "/disconnect", integrationPath),
			postCommand(out, "reconnect", "Return a disconnected integration to service", "/reconnect", integrationPath),
			postCommand(out, "reset-delivery", "Move a failed delivery back to pending", "/reset", deliveryPath),
			connectCommand(out),
			deadLettersCommand(out),
			tokenCommand(out),
		},
	}
}

func clientFrom(c *cli.Command) *apiClient {
	return newAPIClient(c.String("server"), c.String("token"), c.Duration("timeout"))
}

func requireID(c *cli.Command) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("%s requires an ID argument", c.Name)
	}
	return id, nil
}

func printData(out io.Writer, data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, buf.String())
	return err
}

func getCommand(out io.Writer, name, usage string, path func(string, ...string) string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<id>",
		Flags:     connectionFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := requireID(c)
			if err != nil {
				return err
			}
			data, err := clientFrom(c).do(ctx, http.MethodGet, path(id), nil, nil)
			if err != nil {
				return err
			}
			return printData(out, data)
		},
	}
}

func postCommand(out io.Writer, name, usage, suffix string, path func(string, ...string) string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<id>",
		Flags:     connectionFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := requireID(c)
			if err != nil {
				return err
			}
			data, err := clientFrom(c).do(ctx, http.MethodPost, path(id, suffix), nil, nil)
			if err != nil {
				return err
			}
			return printData(out, data)
		},
	}
}

func connectCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Create an integration",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "Owning user ID", Required: true},
			&cli.StringFlag{Name: "platform", Usage: "twitter, linkedin, hubspot or mock", Required: true},
			&cli.StringFlag{Name: "account", Usage: "External account ID"},
			&cli.StringFlag{Name: "frequency", Usage: "Sync frequency, e.g. hourly"},
			&cli.StringFlag{Name: "access-token", Usage: "OAuth access token", Sources: cli.EnvVars("LEADSYNC_ACCESS_TOKEN")},
			&cli.StringFlag{Name: "refresh-token", Usage: "OAuth refresh token", Sources: cli.EnvVars("LEADSYNC_REFRESH_TOKEN")},
		}, connectionFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			body := map[string]string{
				"user_id":             c.String("user"),
				"platform":            c.String("platform"),
				"external_account_id": c.String("account"),
				"sync_frequency":      c.String("frequency"),
				"access_token":        c.String("access-token"),
				"refresh_token":       c.String("refresh-token"),
			}
			data, err := clientFrom(c).do(ctx, http.MethodPost, "/api/v1/integrations", body, nil)
			if err != nil {
				return err
			}
			return printData(out, data)
		},
	}
}

func deadLettersCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "dead-letters",
		Usage: "List tasks whose retries were exhausted",
		Flags: connectionFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			data, err := clientFrom(c).do(ctx, http.MethodGet, "/api/v1/deadletters", nil, nil)
			if err != nil {
				return err
			}
			return printData(out, data)
		},
	}
}

func tokenCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an admin API token signed with the server's admin JWT secret",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Usage: "Admin JWT secret", Sources: cli.EnvVars("ADMIN_JWT_SECRET"), Required: true},
			&cli.StringFlag{Name: "subject", Usage: "Token subject", Value: "leadsyncctl"},
			&cli.StringFlag{Name: "role", Usage: "admin or viewer", Value: auth.RoleAdmin},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: auth.DefaultTokenTTL},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			m, err := auth.NewJWTManager(c.String("secret"))
			if err != nil {
				return err
			}
			token, err := m.GenerateToken(c.String("subject"), c.String("role"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, token)
			return err
		},
	}
}
