// Command shutter-client captures frames from a camera or video file, posts
// each one to a verdict service, and saves the positive ones.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/shutter/internal/app"
	"github.com/ayusman/shutter/internal/capture"
	"github.com/ayusman/shutter/internal/client"
	"github.com/ayusman/shutter/internal/config"
	"github.com/ayusman/shutter/internal/hook"
	"github.com/ayusman/shutter/internal/logging"
	"github.com/ayusman/shutter/internal/store"
)

func main() {
	cfg, err := config.LoadClient(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "shutter-client: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Color: cfg.Log.Color})
	if err != nil {
		fmt.Fprintf(os.Stderr, "shutter-client: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, log); err != nil {
		log.WithField("error", err.Error()).Fatal("capture client failed")
	}
}

func run(cfg *config.Client, log *logrus.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.New(filepath.Join(cfg.DataDir, "shutter.db"))
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer st.Close()

	hooks := hook.NewManager(cfg.HooksDir)
	if err := hooks.Discover(); err != nil {
		return fmt.Errorf("discover hooks: %w", err)
	}
	for _, h := range hooks.List() {
		log.WithFields(logrus.Fields{
			"hook":     h.Manifest.Name,
			"version":  h.Manifest.Version,
			"verdicts": h.Manifest.Verdicts,
		}).Info("hook loaded")
	}

	a := app.New(app.Config{
		Camera:       capture.NewCamera(cfg.Camera),
		Service:      client.New(cfg.URL, cfg.Timeout),
		Logger:       log,
		Interval:     cfg.Interval,
		Album:        cfg.Album,
		Store:        st,
		DataDir:      cfg.DataDir,
		Hooks:        hooks,
		HookExecutor: hook.NewExecutor(cfg.HookTimeout),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"url":    cfg.URL,
		"camera": cfg.Camera,
		"album":  cfg.Album,
	}).Info("capture client starting")

	return a.Run(ctx)
}
