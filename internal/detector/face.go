package detector

import (
	"image"

	"gocv.io/x/gocv"
)

// SmileRegion is a smile detected inside a face crop, in coordinates
// relative to that crop.
type SmileRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FaceRegion is a detected face in image pixel coordinates together with
// the smiles found inside it.
type FaceRegion struct {
	X      int           `json:"x"`
	Y      int           `json:"y"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Smiles []SmileRegion `json:"smiles"`
}

// Rect returns the face bounds as an image.Rectangle.
func (f FaceRegion) Rect() image.Rectangle {
	return image.Rect(f.X, f.Y, f.X+f.Width, f.Y+f.Height)
}

// FaceDetector defines the interface for face/smile extractors.
type FaceDetector interface {
	// Detect returns every face found in the frame in detection order,
	// each carrying the smiles detected within its region.
	Detect(frame *gocv.Mat) ([]FaceRegion, error)

	// Close releases any resources held by the detector.
	Close() error
}

// CascadeParams are the fixed parameters of one detectMultiScale pass.
type CascadeParams struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int // minimum square side in pixels, 0 for no minimum
}

// CascadeConfig holds the classifier files and thresholds for smile detection.
type CascadeConfig struct {
	FaceCascadePath  string
	SmileCascadePath string
	Face             CascadeParams
	Smile            CascadeParams
}

// DefaultCascadeConfig returns the thresholds the smile service starts with.
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		FaceCascadePath:  "haarcascade_frontalface_default.xml",
		SmileCascadePath: "haarcascade_smile.xml",
		Face:             CascadeParams{ScaleFactor: 1.3, MinNeighbors: 5},
		Smile:            CascadeParams{ScaleFactor: 1.9, MinNeighbors: 30, MinSize: 80},
	}
}
