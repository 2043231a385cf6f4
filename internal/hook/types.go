// Package hook runs user executables when the capture client observes a verdict.
package hook

import (
	"encoding/json"
	"slices"
	"time"
)

// ManifestFile is the manifest each hook directory must contain.
const ManifestFile = "hook.json"

// EventVerdict is the event name sent for every observed verdict.
const EventVerdict = "verdict"

// Verdict subscriptions a manifest may list.
const (
	Positive = "positive"
	Negative = "negative"
)

// Manifest describes a hook's metadata and subscriptions.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Executable  string `json:"executable"`
	// Verdicts lists Positive and/or Negative. An empty list means Positive.
	Verdicts []string `json:"verdicts,omitempty"`
}

// Request is written to the hook's stdin as JSON.
type Request struct {
	Event     string    `json:"event"`
	Key       string    `json:"key"`
	Verdict   bool      `json:"verdict"`
	PhotoID   string    `json:"photo_id,omitempty"`
	PhotoPath string    `json:"photo_path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook represents a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Wants reports whether the hook subscribes to the given verdict.
func (h *Hook) Wants(verdict bool) bool {
	if len(h.Manifest.Verdicts) == 0 {
		return verdict
	}
	want := Negative
	if verdict {
		want = Positive
	}
	return slices.Contains(h.Manifest.Verdicts, want)
}
