package detector

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	"gocv.io/x/gocv"
)

func TestHandLandmarks_Above(t *testing.T) {
	var hand HandLandmarks
	hand.Points[IndexTip] = Point3D{Y: 0.2}
	hand.Points[IndexPIP] = Point3D{Y: 0.4}

	if !hand.Above(IndexTip, IndexPIP) {
		t.Error("expected tip with smaller Y to be above PIP")
	}
	if hand.Above(IndexPIP, IndexTip) {
		t.Error("expected PIP with larger Y not to be above tip")
	}

	hand.Points[IndexPIP] = Point3D{Y: 0.2}
	if hand.Above(IndexTip, IndexPIP) {
		t.Error("equal Y must not count as above")
	}
}

func TestMockHandDetector(t *testing.T) {
	t.Run("returns empty hands by default", func(t *testing.T) {
		mock := NewMockHandDetector()

		hands, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if hands != nil {
			t.Errorf("expected nil hands, got %v", hands)
		}
	})

	t.Run("returns configured hands", func(t *testing.T) {
		mock := NewMockHandDetector()

		mock.SetHands([]HandLandmarks{VictoryLandmarks(), OpenPalmLandmarks()})

		hands, err := mock.Detect(nil)

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(hands) != 2 {
			t.Errorf("expected 2 hands, got %d", len(hands))
		}
		if mock.Calls() != 1 {
			t.Errorf("expected 1 call, got %d", mock.Calls())
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockHandDetector()

		expectedErr := errors.New("detection failed")
		mock.SetError(expectedErr)

		hands, err := mock.Detect(nil)

		if err != expectedErr {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if hands != nil {
			t.Errorf("expected nil hands when error is set, got %v", hands)
		}
	})

	t.Run("implements HandDetector interface", func(t *testing.T) {
		var _ HandDetector = (*MockHandDetector)(nil)
	})
}

func TestMockFaceDetector(t *testing.T) {
	t.Run("returns configured faces", func(t *testing.T) {
		mock := NewMockFaceDetector()
		mock.SetFaces([]FaceRegion{{X: 1, Y: 2, Width: 3, Height: 4}})

		faces, err := mock.Detect(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(faces) != 1 {
			t.Errorf("expected 1 face, got %d", len(faces))
		}
	})

	t.Run("error wins over faces", func(t *testing.T) {
		mock := NewMockFaceDetector()
		mock.SetFaces([]FaceRegion{{}})
		mock.SetError(errors.New("cascade failed"))

		faces, err := mock.Detect(nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if faces != nil {
			t.Errorf("expected nil faces, got %v", faces)
		}
	})

	t.Run("implements FaceDetector interface", func(t *testing.T) {
		var _ FaceDetector = (*MockFaceDetector)(nil)
		var _ FaceDetector = (*CascadeDetector)(nil)
		var _ HandDetector = (*MediaPipeDetector)(nil)
	})
}

func TestVictoryLandmarks(t *testing.T) {
	hand := VictoryLandmarks()

	if !hand.Above(IndexTip, IndexPIP) {
		t.Error("index finger should be extended")
	}
	if !hand.Above(MiddleTip, MiddlePIP) {
		t.Error("middle finger should be extended")
	}
	if hand.Above(RingTip, RingPIP) {
		t.Error("ring finger should be curled")
	}
	if hand.Above(PinkyTip, PinkyPIP) {
		t.Error("pinky should be curled")
	}
}

func TestOpenPalmLandmarks(t *testing.T) {
	hand := OpenPalmLandmarks()

	fingers := []struct {
		name     string
		tip, pip int
	}{
		{"index", IndexTip, IndexPIP},
		{"middle", MiddleTip, MiddlePIP},
		{"ring", RingTip, RingPIP},
		{"pinky", PinkyTip, PinkyPIP},
	}
	for _, f := range fingers {
		if !hand.Above(f.tip, f.pip) {
			t.Errorf("%s finger should be extended", f.name)
		}
	}
}

func TestThumbsUpLandmarks(t *testing.T) {
	hand := ThumbsUpLandmarks()

	if !hand.Above(ThumbTip, ThumbMCP) {
		t.Error("thumb tip should be above thumb MCP")
	}
	if hand.Above(RingTip, RingPIP) || hand.Above(PinkyTip, PinkyPIP) {
		t.Error("ring and pinky should be curled")
	}
}

func handJSON(points int) string {
	parts := make([]string, points)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"x":0.1,"y":%d,"z":0}`, i)
	}
	return `{"points":[` + strings.Join(parts, ",") + `],"handedness":"Left","score":0.9}`
}

func TestParseResponse(t *testing.T) {
	t.Run("no hands", func(t *testing.T) {
		hands, err := parseResponse([]byte(`{"hands":[]}`+"\n"), 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 0 {
			t.Errorf("expected no hands, got %d", len(hands))
		}
	})

	t.Run("preserves order and fields", func(t *testing.T) {
		line := `{"hands":[` + handJSON(NumLandmarks) + `]}`
		hands, err := parseResponse([]byte(line), 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 1 {
			t.Fatalf("expected 1 hand, got %d", len(hands))
		}
		if hands[0].Handedness != "Left" {
			t.Errorf("expected handedness Left, got %s", hands[0].Handedness)
		}
		if hands[0].Points[PinkyTip].Y != 20 {
			t.Errorf("expected pinky tip Y 20, got %f", hands[0].Points[PinkyTip].Y)
		}
	})

	t.Run("caps at max hands", func(t *testing.T) {
		h := handJSON(NumLandmarks)
		line := `{"hands":[` + h + `,` + h + `,` + h + `]}`
		hands, err := parseResponse([]byte(line), 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 2 {
			t.Errorf("expected 2 hands, got %d", len(hands))
		}
	})

	t.Run("rejects short landmark set", func(t *testing.T) {
		line := `{"hands":[` + handJSON(20) + `]}`
		if _, err := parseResponse([]byte(line), 2); err == nil {
			t.Error("expected error for 20 landmarks")
		}
	})

	t.Run("surfaces service error", func(t *testing.T) {
		_, err := parseResponse([]byte(`{"error":"model crashed"}`), 2)
		if err == nil || !strings.Contains(err.Error(), "model crashed") {
			t.Errorf("expected service error, got %v", err)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		if _, err := parseResponse([]byte(`not json`), 2); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestNewMediaPipeDetector_MissingScript(t *testing.T) {
	_, err := NewMediaPipeDetector(Config{ScriptPath: "/nonexistent/mediapipe_service.py"})
	if !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("expected ErrScriptNotFound, got %v", err)
	}
}

func TestFaceRegion_Rect(t *testing.T) {
	f := FaceRegion{X: 10, Y: 20, Width: 30, Height: 40}
	want := image.Rect(10, 20, 40, 60)
	if f.Rect() != want {
		t.Errorf("Rect() = %v, want %v", f.Rect(), want)
	}
}

func TestDefaultCascadeConfig(t *testing.T) {
	cfg := DefaultCascadeConfig()

	if cfg.Face.ScaleFactor != 1.3 || cfg.Face.MinNeighbors != 5 {
		t.Errorf("unexpected face params: %+v", cfg.Face)
	}
	if cfg.Smile.ScaleFactor != 1.9 || cfg.Smile.MinNeighbors != 30 || cfg.Smile.MinSize != 80 {
		t.Errorf("unexpected smile params: %+v", cfg.Smile)
	}
}

func TestNewCascadeDetector_MissingFile(t *testing.T) {
	cfg := DefaultCascadeConfig()
	cfg.FaceCascadePath = "/nonexistent/no_such_cascade.xml"

	if _, err := NewCascadeDetector(cfg); err == nil {
		t.Error("expected error for missing cascade file")
	}
}

func TestCascadeDetector_DetectAfterClose(t *testing.T) {
	d, err := NewCascadeDetector(DefaultCascadeConfig())
	if err != nil {
		t.Skipf("cascade files not available: %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	frame := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer frame.Close()

	if _, err := d.Detect(&frame); !errors.Is(err, ErrClosed) {
		t.Errorf("Detect() error = %v, want ErrClosed", err)
	}
}
