package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/shutter/internal/capture"
	"github.com/ayusman/shutter/internal/client"
	"github.com/ayusman/shutter/internal/hook"
	"github.com/ayusman/shutter/internal/imaging"
	"github.com/ayusman/shutter/internal/store"
)

// Run opens the camera and loops until the stream ends or ctx is cancelled.
// The end of the stream and cancellation return nil; any other read failure
// also ends the loop and is returned.
//
// Each iteration is independent:
// 1. Read a frame
// 2. Encode it as JPEG
// 3. POST it and read the verdict (failures are logged and skipped)
// 4. On a positive verdict, save the frame when an album is configured
// 5. Run the hooks subscribed to the verdict
// 6. Wait the interval
func (a *App) Run(ctx context.Context) error {
	if err := a.config.Camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer func() {
		if err := a.config.Camera.Close(); err != nil {
			a.log.WithField("error", err.Error()).Warn("error closing camera")
		}
	}()

	a.log.WithField("interval", a.config.Interval.String()).Info("capture loop started")
	defer func() {
		s := a.Stats()
		a.log.WithFields(logrus.Fields{
			"frames":    s.Frames,
			"positives": s.Positives,
			"negatives": s.Negatives,
			"failures":  s.Failures,
			"saved":     s.Saved,
		}).Info("capture loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := a.iterate(ctx); err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				a.log.Info("capture source ended")
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.config.Interval):
		}
	}
}

// iterate runs one loop iteration. Only frame acquisition errors are returned.
func (a *App) iterate(ctx context.Context) error {
	frame, err := a.config.Camera.ReadFrame()
	if err != nil {
		return err
	}

	data, err := imaging.EncodeJPEG(*frame)
	frame.Close()
	if err != nil {
		a.count(func(s *Stats) { s.Failures++ })
		a.log.WithField("error", err.Error()).Warn("failed to encode frame")
		return nil
	}
	a.count(func(s *Stats) { s.Frames++ })

	result, err := a.config.Service.Detect(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.count(func(s *Stats) { s.Failures++ })
		a.log.WithField("error", err.Error()).Warn("verdict request failed")
		return nil
	}

	log := a.log.WithFields(logrus.Fields{"key": result.Key, "verdict": result.Verdict})
	if result.Verdict {
		a.count(func(s *Stats) { s.Positives++ })
		log.Info("positive verdict")
	} else {
		a.count(func(s *Stats) { s.Negatives++ })
		log.Debug("negative verdict")
	}

	var photo *store.Photo
	if result.Verdict && a.savingEnabled() {
		photo, err = a.savePhoto(result.Key, data)
		if err != nil {
			log.WithField("error", err.Error()).Error("failed to save photo")
		} else {
			a.count(func(s *Stats) { s.Saved++ })
			log.WithFields(logrus.Fields{"photo_id": photo.ID, "path": photo.Path}).Info("photo saved")
		}
	}

	a.runHooks(ctx, result, photo)
	return nil
}

// errAlbumName is returned when the album name would not stay inside
// <data-dir>/albums.
var errAlbumName = errors.New("album name must be a single path element")

func validAlbumName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// savePhoto writes the frame under <data-dir>/albums/<album>/ and records it.
func (a *App) savePhoto(key string, data []byte) (*store.Photo, error) {
	if !validAlbumName(a.config.Album) {
		return nil, fmt.Errorf("%w: %q", errAlbumName, a.config.Album)
	}

	album, err := a.config.Store.Albums().GetOrCreate(a.config.Album)
	if err != nil {
		return nil, fmt.Errorf("album %q: %w", a.config.Album, err)
	}

	dir := filepath.Join(a.config.DataDir, "albums", a.config.Album)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	photo := &store.Photo{
		ID:         uuid.NewString(),
		AlbumID:    album.ID,
		VerdictKey: key,
		SizeBytes:  int64(len(data)),
	}
	photo.Path = filepath.Join(dir, photo.ID+".jpg")

	if err := os.WriteFile(photo.Path, data, 0o644); err != nil {
		return nil, err
	}
	if err := a.config.Store.Photos().Create(photo); err != nil {
		os.Remove(photo.Path)
		return nil, err
	}
	return photo, nil
}

// runHooks executes each hook subscribed to the verdict, one after another.
func (a *App) runHooks(ctx context.Context, result client.Result, photo *store.Photo) {
	if a.config.Hooks == nil {
		return
	}

	req := &hook.Request{
		Event:     hook.EventVerdict,
		Key:       result.Key,
		Verdict:   result.Verdict,
		Timestamp: time.Now(),
	}
	if photo != nil {
		req.PhotoID = photo.ID
		req.PhotoPath = photo.Path
	}

	for _, h := range a.config.Hooks.Subscribed(result.Verdict) {
		log := a.log.WithField("hook", h.Manifest.Name)

		resp, err := a.config.HookExecutor.Execute(ctx, h, req)
		a.count(func(s *Stats) { s.HookRuns++ })
		if err != nil {
			log.WithField("error", err.Error()).Warn("hook failed")
			continue
		}
		if !resp.Success {
			log.WithField("error", resp.Error).Warn("hook reported failure")
			continue
		}
		log.Debug("hook succeeded")
	}
}
