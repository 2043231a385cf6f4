package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/shutter/internal/detector"
	"github.com/ayusman/shutter/internal/metrics"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 80, G: 90, B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "frame.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServer_Health(t *testing.T) {
	s := New(Config{HandDetector: detector.NewMockHandDetector()})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}

		endpoints, _ := response["endpoints"].([]interface{})
		if len(endpoints) != 1 || endpoints[0] != "/detect" {
			t.Errorf("expected endpoints [/detect], got %v", response["endpoints"])
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		available map[string]bool
	}{
		{
			name:      "gesture service",
			config:    Config{HandDetector: detector.NewMockHandDetector()},
			available: map[string]bool{"/detect": true, "/detect_smile": false},
		},
		{
			name:      "smile service",
			config:    Config{FaceDetector: detector.NewMockFaceDetector()},
			available: map[string]bool{"/detect": false, "/detect_smile": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.config)

			for path, want := range tt.available {
				rec := httptest.NewRecorder()
				s.ServeHTTP(rec, uploadRequest(t, path, testJPEG(t)))

				if want && rec.Code != http.StatusOK {
					t.Errorf("%s: expected status %d, got %d", path, http.StatusOK, rec.Code)
				}
				if !want && rec.Code != http.StatusNotFound {
					t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
				}
			}
		})
	}
}

func TestServer_RequestID(t *testing.T) {
	s := New(Config{})

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		if rec.Header().Get(RequestIDHeader) == "" {
			t.Error("expected a generated request id")
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set(RequestIDHeader, "caller-id")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "caller-id" {
			t.Errorf("expected caller-id, got %q", got)
		}
	})
}

func TestServer_RateLimit(t *testing.T) {
	m := metrics.New()
	s := New(Config{
		HandDetector: detector.NewMockHandDetector(),
		Metrics:      m,
		RateLimit:    0.001,
		RateBurst:    1,
	})

	first := httptest.NewRecorder()
	s.ServeHTTP(first, uploadRequest(t, "/detect", testJPEG(t)))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	s.ServeHTTP(second, uploadRequest(t, "/detect", testJPEG(t)))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, second.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(second.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["error"] == nil {
		t.Error("expected 'error' field in response")
	}
	if _, ok := body["v"]; ok {
		t.Error("rate limited response must not carry 'v'")
	}

	health := httptest.NewRecorder()
	s.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if health.Code != http.StatusOK {
		t.Errorf("health must not be rate limited, got %d", health.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	s := New(Config{FaceDetector: detector.NewMockFaceDetector(), Metrics: m})

	s.ServeHTTP(httptest.NewRecorder(), uploadRequest(t, "/detect_smile", testJPEG(t)))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `shutter_requests_total{endpoint="/detect_smile",outcome="negative"} 1`) {
		t.Errorf("expected negative outcome counted, got:\n%s", rec.Body.String())
	}
}

func TestRecoverPanics(t *testing.T) {
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), requestID, recoverPanics(New(Config{}).log))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/detect", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("expected JSON error body, got %s", rec.Body.String())
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := clientIP(req, false); got != "10.0.0.7" {
		t.Errorf("expected 10.0.0.7, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req, false); got != "10.0.0.7" {
		t.Errorf("untrusted X-Forwarded-For must be ignored, got %s", got)
	}
	if got := clientIP(req, true); got != "203.0.113.9" {
		t.Errorf("expected 203.0.113.9, got %s", got)
	}
}

func TestServer_RateLimit_SpoofedForwardedFor(t *testing.T) {
	s := New(Config{
		HandDetector: detector.NewMockHandDetector(),
		RateLimit:    0.001,
		RateBurst:    1,
	})

	first := httptest.NewRecorder()
	s.ServeHTTP(first, uploadRequest(t, "/detect", testJPEG(t)))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	req := uploadRequest(t, "/detect", testJPEG(t))
	req.Header.Set("X-Forwarded-For", "198.51.100.77")
	second := httptest.NewRecorder()
	s.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("a new X-Forwarded-For must not reset the budget, got %d", second.Code)
	}
}

func TestServer_RateLimit_UnroutedPathsShareLabel(t *testing.T) {
	m := metrics.New()
	s := New(Config{
		HandDetector: detector.NewMockHandDetector(),
		Metrics:      m,
		RateLimit:    0.001,
		RateBurst:    1,
	})

	s.ServeHTTP(httptest.NewRecorder(), uploadRequest(t, "/detect", testJPEG(t)))
	for i := 1; i <= 20; i++ {
		s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, fmt.Sprintf("/x%d", i), nil))
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	if !strings.Contains(body, `shutter_requests_total{endpoint="other",outcome="rate_limited"} 20`) {
		t.Errorf("expected unrouted paths counted under other, got:\n%s", body)
	}
	if strings.Contains(body, `endpoint="/x1"`) {
		t.Error("raw request path leaked into a metric label")
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		l.limiterFor(fmt.Sprintf("10.0.0.%d", i))
	}
	if l.size() != 50 {
		t.Fatalf("expected 50 buckets, got %d", l.size())
	}

	now = now.Add(limiterIdleTTL + limiterSweepEvery)
	l.limiterFor("10.0.1.1")

	if l.size() != 1 {
		t.Errorf("expected idle buckets swept, %d remain", l.size())
	}
}

func TestStreamHandler(t *testing.T) {
	hands := detector.NewMockHandDetector()
	hands.SetHands([]detector.HandLandmarks{detector.VictoryLandmarks()})

	ts := httptest.NewServer(New(Config{HandDetector: hands}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/detect/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	// Text frames are ignored; the next reply belongs to the binary frame.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write text error = %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, testJPEG(t)); err != nil {
		t.Fatalf("write binary error = %v", err)
	}

	var verdict map[string]interface{}
	if err := conn.ReadJSON(&verdict); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if verdict["v"] != true {
		t.Errorf("expected v=true, got %v", verdict)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")); err != nil {
		t.Fatalf("write binary error = %v", err)
	}
	var failure map[string]interface{}
	if err := conn.ReadJSON(&failure); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if failure["error"] == nil || failure["v"] != nil {
		t.Errorf("expected error-only body, got %v", failure)
	}
}

func TestServer_Serve_Shutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error = %v", err)
	}

	s := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// blockingFaces holds Detect until released.
type blockingFaces struct {
	entered  chan struct{}
	release  chan struct{}
	finished chan struct{}
}

func (b *blockingFaces) Detect(frame *gocv.Mat) ([]detector.FaceRegion, error) {
	close(b.entered)
	<-b.release
	close(b.finished)
	return nil, nil
}

func (b *blockingFaces) Close() error { return nil }

func TestServer_Serve_WaitsForStreamFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error = %v", err)
	}

	faces := &blockingFaces{
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	s := New(Config{FaceDetector: faces, ShutdownTimeout: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/detect_smile/ws", nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, testJPEG(t)); err != nil {
		t.Fatalf("write binary error = %v", err)
	}
	select {
	case <-faces.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("detector was never called")
	}

	cancel()
	select {
	case err := <-done:
		t.Fatalf("Serve returned while a frame was in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(faces.release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the frame finished")
	}

	select {
	case <-faces.finished:
	default:
		t.Error("Serve returned before the detector finished")
	}
}

func TestNew(t *testing.T) {
	s := New(Config{})
	if s == nil {
		t.Fatal("expected non-nil server")
	}
	if s.mux == nil {
		t.Error("expected non-nil mux")
	}
	if s.config.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("expected default shutdown timeout, got %v", s.config.ShutdownTimeout)
	}
}
