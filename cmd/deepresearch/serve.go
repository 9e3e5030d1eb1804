//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/deepresearch-go/config"
	"trpc.group/trpc-go/deepresearch-go/driver"
	"trpc.group/trpc-go/deepresearch-go/log"
	"trpc.group/trpc-go/deepresearch-go/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.runner(nil, nil)
			if err != nil {
				return err
			}
			host, err := driver.NewHost(r, cfg.Server.Workers)
			if err != nil {
				return err
			}
			defer host.Close()

			srv := server.New(host, a.executor,
				server.WithThreadPrefix(cfg.Run.ThreadPrefix),
				server.WithCompletion(reportSaver(cfg)),
			)
			return serve(ctx, &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()})
		},
	}
	cmd.Flags().String("addr", "", "listen address, overrides server.addr")
	return cmd
}

// reportSaver saves the report of every completed run.
func reportSaver(cfg *config.Config) server.CompletionFunc {
	return func(query string, out *driver.Outcome, err error) {
		if err != nil || out == nil || out.Result == nil {
			return
		}
		if _, err := saveReport(cfg, query, out); err != nil {
			log.Errorf("deepresearch: thread %s: %v", out.ThreadID, err)
		}
	}
}

// serve runs hs until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, hs *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("deepresearch: listening on %s", hs.Addr)
		errCh <- hs.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
