package detector

import (
	"errors"
	"time"

	"gocv.io/x/gocv"
)

// ErrClosed is returned by Detect after Close.
var ErrClosed = errors.New("detector closed")

// HandDetector defines the interface for hand landmark extractors.
type HandDetector interface {
	// Detect analyzes a frame and returns the landmarks of every detected
	// hand in detection order. Returns an empty slice if no hands are found.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// ScriptPath overrides the location of mediapipe_service.py.
	ScriptPath string

	// PythonPath overrides the interpreter used to run the script.
	PythonPath string

	// RequestTimeout bounds one frame round trip to the script. A process
	// that does not answer in time is killed and restarted on the next call.
	RequestTimeout time.Duration
}

// DefaultConfig returns the configuration the gesture service starts with.
func DefaultConfig() Config {
	return Config{
		MaxHands:       2,
		MinConfidence:  0.5,
		RequestTimeout: 10 * time.Second,
	}
}
