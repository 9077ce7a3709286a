package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/goliatone/go-ingest/api"
	"github.com/goliatone/go-ingest/core"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingestd",
		Usage: "CSV and spreadsheet ingestion with signed webhook fan-out",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "dotenv files loaded before reading INGEST_* variables",
				Value: []string{".env"},
			},
			&cli.BoolFlag{
				Name:  "auto-migrate",
				Usage: "apply pending migrations before starting",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at trace level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API together with the in-process worker pool",
				Action: serveAction,
			},
			{
				Name:  "ingest",
				Usage: "ingest one file and stream its progress to stdout",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "path to a .csv or .xlsx file",
						Required: true,
					},
				},
				Action: ingestAction,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: migrateAction,
			},
		},
	}
}

func loggerFor(cmd *cli.Command) *glog.BaseLogger {
	return newLogger(cmd.Root().ErrWriter, cmd.Bool("debug"))
}

func optionsFor(cmd *cli.Command, withRuntime bool) appOptions {
	return appOptions{
		envFiles:    cmd.StringSlice("env"),
		autoMigrate: cmd.Bool("auto-migrate"),
		withRuntime: withRuntime,
	}
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	opts := optionsFor(cmd, false)
	opts.autoMigrate = true
	a, err := openApp(ctx, loggerFor(cmd), opts)
	if err != nil {
		return err
	}
	return a.Close()
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	logger := loggerFor(cmd)
	a, err := openApp(ctx, logger, optionsFor(cmd, true))
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := api.NewServer(a.runtime.Facade(), a.runtime.Streamer(),
		api.WithLogger(logger.GetLogger("api")),
		api.WithHTTPConfig(a.config.HTTP),
	)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              a.config.HTTP.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runtime.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ingestAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	a, err := openApp(ctx, loggerFor(cmd), optionsFor(cmd, true))
	if err != nil {
		return err
	}
	defer a.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- a.runtime.Run(runCtx) }()

	receipt, err := a.runtime.Service().SubmitUpload(ctx, core.UploadRequest{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Payload:     payload,
	})
	if err != nil {
		stop()
		<-done
		return err
	}

	out := json.NewEncoder(cmd.Root().Writer)
	var last *core.ProgressSnapshot
	var failure string
	streamErr := a.runtime.Streamer().Stream(ctx, receipt.TaskID, func(msg core.StreamMessage) error {
		if msg.Snapshot != nil {
			last = msg.Snapshot
		}
		if msg.Err != "" {
			failure = msg.Err
		}
		return out.Encode(msg)
	})
	stop()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	switch {
	case streamErr != nil:
		return streamErr
	case failure != "":
		return fmt.Errorf("ingest %s: %s", receipt.TaskID, failure)
	case last != nil && last.Status == core.JobStatusFailed:
		return fmt.Errorf("ingest %s: %s", receipt.TaskID, last.Error)
	}
	return nil
}
