// Package gesture decides whether detected hands show the victory sign.
package gesture

import (
	"github.com/ayusman/shutter/internal/detector"
	"github.com/ayusman/shutter/internal/verdict"
)

// IsVictory reports whether one hand shows the victory sign: index and
// middle fingers extended, ring and pinky not extended. A finger counts as
// extended when its tip is higher on screen than its PIP joint. The thumb is
// not considered.
func IsVictory(hand *detector.HandLandmarks) bool {
	if hand == nil {
		return false
	}
	return hand.Above(detector.IndexTip, detector.IndexPIP) &&
		hand.Above(detector.MiddleTip, detector.MiddlePIP) &&
		!hand.Above(detector.RingTip, detector.RingPIP) &&
		!hand.Above(detector.PinkyTip, detector.PinkyPIP)
}

// AnyVictory reports whether any hand in the frame shows the victory sign.
// Hands are evaluated in detection order and evaluation stops at the first match.
func AnyVictory(hands []detector.HandLandmarks) bool {
	return verdict.Any(hands, func(h detector.HandLandmarks) bool {
		return IsVictory(&h)
	})
}
