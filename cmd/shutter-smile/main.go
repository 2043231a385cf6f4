// Command shutter-smile serves POST /detect_smile, answering whether any face
// in an uploaded image is smiling.
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
	cfg, err := config.LoadSmile(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "shutter-smile: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Color: cfg.Log.Color})
	if err != nil {
		fmt.Fprintf(os.Stderr, "shutter-smile: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, log); err != nil {
		log.WithField("error", err.Error()).Fatal("smile service failed")
	}
}

func cascadeConfig(cfg *config.Smile) detector.CascadeConfig {
	cc := detector.DefaultCascadeConfig()
	if cfg.FaceCascade != "" {
		cc.FaceCascadePath = cfg.FaceCascade
	}
	if cfg.SmileCascade != "" {
		cc.SmileCascadePath = cfg.SmileCascade
	}
	cc.Face.ScaleFactor = cfg.FaceScale
	cc.Face.MinNeighbors = cfg.FaceNeighbors
	cc.Smile.ScaleFactor = cfg.SmileScale
	cc.Smile.MinNeighbors = cfg.SmileNeighbors
	cc.Smile.MinSize = cfg.SmileMinSize
	return cc
}

func run(cfg *config.Smile, log *logrus.Logger) error {
	faces, err := detector.NewCascadeDetector(cascadeConfig(cfg))
	if err != nil {
		return fmt.Errorf("face detector: %w", err)
	}
	defer faces.Close()

	srv := server.New(server.Config{
		FaceDetector:   faces,
		Metrics:        metrics.New(),
		Logger:         log,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		TrustProxy:     cfg.Server.TrustProxy,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("addr", cfg.Server.Addr()).Info("smile service listening")

	return srv.Run(ctx, cfg.Server.Addr())
}
