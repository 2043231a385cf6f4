package detector

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"
)

// cascadeDirs are searched when a classifier path does not load as given.
var cascadeDirs = []string{
	"./models/haarcascades",
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv4/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
}

// CascadeDetector implements FaceDetector with two Haar cascade classifiers:
// one for faces on the full grayscale frame and one for smiles inside each
// face crop.
type CascadeDetector struct {
	config CascadeConfig
	face   gocv.CascadeClassifier
	smile  gocv.CascadeClassifier
	mu     sync.Mutex
	closed bool
}

// NewCascadeDetector loads both classifiers. The classifiers are not safe
// for concurrent use, so Detect serializes access to them.
func NewCascadeDetector(config CascadeConfig) (*CascadeDetector, error) {
	d := &CascadeDetector{
		config: config,
		face:   gocv.NewCascadeClassifier(),
		smile:  gocv.NewCascadeClassifier(),
	}

	if err := loadCascade(&d.face, config.FaceCascadePath); err != nil {
		d.Close()
		return nil, fmt.Errorf("face cascade: %w", err)
	}
	if err := loadCascade(&d.smile, config.SmileCascadePath); err != nil {
		d.Close()
		return nil, fmt.Errorf("smile cascade: %w", err)
	}

	return d, nil
}

func loadCascade(c *gocv.CascadeClassifier, path string) error {
	if path == "" {
		return errors.New("no classifier path configured")
	}
	if c.Load(path) {
		return nil
	}
	for _, dir := range cascadeDirs {
		if c.Load(filepath.Join(dir, filepath.Base(path))) {
			return nil
		}
	}
	return fmt.Errorf("failed to load %s or alternative paths", path)
}

// Detect converts the frame to grayscale, finds faces, and runs the smile
// classifier on every face crop.
func (d *CascadeDetector) Detect(frame *gocv.Mat) ([]FaceRegion, error) {
	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	faces := detectMultiScale(&d.face, gray, d.config.Face)

	regions := make([]FaceRegion, 0, len(faces))
	for _, f := range faces {
		f = f.Intersect(image.Rect(0, 0, gray.Cols(), gray.Rows()))
		if f.Empty() {
			continue
		}

		crop := gray.Region(f)
		smiles := detectMultiScale(&d.smile, crop, d.config.Smile)
		crop.Close()

		region := FaceRegion{
			X:      f.Min.X,
			Y:      f.Min.Y,
			Width:  f.Dx(),
			Height: f.Dy(),
			Smiles: make([]SmileRegion, 0, len(smiles)),
		}
		for _, s := range smiles {
			region.Smiles = append(region.Smiles, SmileRegion{
				X:      s.Min.X,
				Y:      s.Min.Y,
				Width:  s.Dx(),
				Height: s.Dy(),
			})
		}
		regions = append(regions, region)
	}

	return regions, nil
}

func detectMultiScale(c *gocv.CascadeClassifier, img gocv.Mat, p CascadeParams) []image.Rectangle {
	minSize := image.Point{X: p.MinSize, Y: p.MinSize}
	return c.DetectMultiScaleWithParams(img, p.ScaleFactor, p.MinNeighbors, 0, minSize, image.Point{})
}

// Close releases both classifiers. Detect fails with ErrClosed afterwards and
// a second Close is a no-op.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return errors.Join(d.face.Close(), d.smile.Close())
}
