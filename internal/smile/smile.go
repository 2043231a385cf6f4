// Package smile decides whether detected faces are smiling.
package smile

import (
	"github.com/ayusman/shutter/internal/detector"
	"github.com/ayusman/shutter/internal/verdict"
)

// HasSmile reports whether at least one smile was detected inside the face.
func HasSmile(face detector.FaceRegion) bool {
	return len(face.Smiles) > 0
}

// AnySmile reports whether any face in the frame is smiling.
// Faces are evaluated in detection order and evaluation stops at the first match.
func AnySmile(faces []detector.FaceRegion) bool {
	return verdict.Any(faces, HasSmile)
}
