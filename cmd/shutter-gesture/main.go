// Command shutter-gesture serves POST /detect, answering whether an uploaded
// image shows a victory (V) hand sign.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/shutter/internal/config"
	"github.com/ayusman/shutter/internal/detector"
	"github.com/ayusman/shutter/internal/logging"
	"github.com/ayusman/shutter/internal/metrics"
	"github.com/ayusman/shutter/internal/server"
)

func main() {
	cfg, err := config.LoadGesture(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "shutter-gesture: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Color: cfg.Log.Color})
	if err != nil {
		fmt.Fprintf(os.Stderr, "shutter-gesture: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, log); err != nil {
		log.WithField("error", err.Error()).Fatal("gesture service failed")
	}
}

func run(cfg *config.Gesture, log *logrus.Logger) error {
	hands, err := detector.NewMediaPipeDetector(detector.Config{
		MaxHands:       cfg.MaxHands,
		MinConfidence:  cfg.MinConfidence,
		ScriptPath:     cfg.MediaPipeScript,
		PythonPath:     cfg.Python,
		RequestTimeout: cfg.DetectTimeout,
	})
	if err != nil {
		return fmt.Errorf("hand detector: %w", err)
	}
	defer hands.Close()

	srv := server.New(server.Config{
		HandDetector:   hands,
		Metrics:        metrics.New(),
		Logger:         log,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		TrustProxy:     cfg.Server.TrustProxy,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"addr":      cfg.Server.Addr(),
		"max_hands": cfg.MaxHands,
	}).Info("gesture service listening")

	return srv.Run(ctx, cfg.Server.Addr())
}
