// Package api provides the HTTP handlers of the verdict services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/shutter/internal/detector"
	"github.com/ayusman/shutter/internal/gesture"
	"github.com/ayusman/shutter/internal/imaging"
	"github.com/ayusman/shutter/internal/logging"
	"github.com/ayusman/shutter/internal/metrics"
	"github.com/ayusman/shutter/internal/smile"
)

// Endpoint paths.
const (
	GesturePath = "/detect"
	SmilePath   = "/detect_smile"
)

// DefaultMaxUploadBytes bounds the request body when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 4 << 20

// preferredFields are checked first when picking the image out of a multipart form.
var preferredFields = []string{"file", "f"}

var errNoFile = errors.New("request must contain an image file field")

// Response bodies. Success and error shapes never share keys.

type gestureResponse struct {
	V bool `json:"v"`
}

type smileResponse struct {
	SmileDetected bool `json:"smile_detected"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Options carries the collaborators shared by the detect handlers.
type Options struct {
	Metrics        *metrics.Metrics
	Logger         logrus.FieldLogger
	MaxUploadBytes int64
}

// Evaluator turns one encoded image into a status code and JSON body.
type Evaluator interface {
	Endpoint() string
	Evaluate(ctx context.Context, data []byte) (int, any)
	MaxUploadBytes() int64
}

// detectFunc runs the extractor on a frame and reduces it to a verdict.
type detectFunc func(frame *gocv.Mat) (positive bool, instances int, err error)

// DetectHandler serves one verdict endpoint: decode, extract, decide, respond.
type DetectHandler struct {
	endpoint string
	detect   detectFunc
	respond  func(positive bool) any
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	maxBytes int64
}

// NewGestureHandler creates the handler for POST /detect.
func NewGestureHandler(d detector.HandDetector, opts Options) *DetectHandler {
	return newDetectHandler(GesturePath, opts,
		func(frame *gocv.Mat) (bool, int, error) {
			hands, err := d.Detect(frame)
			if err != nil {
				return false, 0, err
			}
			return gesture.AnyVictory(hands), len(hands), nil
		},
		func(positive bool) any { return gestureResponse{V: positive} },
	)
}

// NewSmileHandler creates the handler for POST /detect_smile.
func NewSmileHandler(d detector.FaceDetector, opts Options) *DetectHandler {
	return newDetectHandler(SmilePath, opts,
		func(frame *gocv.Mat) (bool, int, error) {
			faces, err := d.Detect(frame)
			if err != nil {
				return false, 0, err
			}
			return smile.AnySmile(faces), len(faces), nil
		},
		func(positive bool) any { return smileResponse{SmileDetected: positive} },
	)
}

func newDetectHandler(endpoint string, opts Options, detect detectFunc, respond func(bool) any) *DetectHandler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	maxBytes := opts.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &DetectHandler{
		endpoint: endpoint,
		detect:   detect,
		respond:  respond,
		metrics:  opts.Metrics,
		log:      logger.WithField("endpoint", endpoint),
		maxBytes: maxBytes,
	}
}

// Endpoint returns the path this handler serves.
func (h *DetectHandler) Endpoint() string {
	return h.endpoint
}

// MaxUploadBytes returns the largest accepted image payload.
func (h *DetectHandler) MaxUploadBytes() int64 {
	return h.maxBytes
}

// ServeHTTP implements the http.Handler interface.
func (h *DetectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	data, err := readImage(r)
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.log.WithFields(logrus.Fields{
			"request_id": RequestID(r.Context()),
			"error":      err.Error(),
		}).Warn("rejected upload")
		h.metrics.ObserveRequest(h.endpoint, metrics.OutcomeBadRequest, time.Since(start))
		writeError(w, status, err.Error())
		return
	}

	status, body := h.Evaluate(r.Context(), data)
	writeJSON(w, status, body)
}

// Evaluate decodes the image, runs the extractor and applies the decision rule.
// Decode failures yield 400 and extractor faults 500, both with an error body.
func (h *DetectHandler) Evaluate(ctx context.Context, data []byte) (int, any) {
	start := time.Now()
	log := h.log.WithField("request_id", RequestID(ctx))

	frame, err := imaging.Decode(data)
	if err != nil {
		frame.Close()
		log.WithField("bytes", len(data)).Warn("image decode failed")
		h.metrics.ObserveRequest(h.endpoint, metrics.OutcomeDecodeError, time.Since(start))
		return http.StatusBadRequest, errorResponse{Error: imaging.ErrDecode.Error()}
	}
	defer frame.Close()

	positive, instances, err := h.detect(&frame)
	if err != nil {
		log.WithField("error", err.Error()).Error("detector failed")
		h.metrics.ObserveRequest(h.endpoint, metrics.OutcomeDetectorError, time.Since(start))
		return http.StatusInternalServerError, errorResponse{Error: "detection failed"}
	}

	outcome := metrics.OutcomeNegative
	if positive {
		outcome = metrics.OutcomePositive
	}
	h.metrics.ObserveInstances(h.endpoint, instances)
	h.metrics.ObserveRequest(h.endpoint, outcome, time.Since(start))

	log.WithFields(logrus.Fields{
		"verdict":    positive,
		"instances":  instances,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("verdict computed")

	return http.StatusOK, h.respond(positive)
}

// readImage returns the bytes of the image file field of a multipart request.
func readImage(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	fh := pickFile(r.MultipartForm.File)
	if fh == nil {
		return nil, errNoFile
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

func pickFile(files map[string][]*multipart.FileHeader) *multipart.FileHeader {
	for _, name := range preferredFields {
		if fhs := files[name]; len(fhs) > 0 {
			return fhs[0]
		}
	}

	names := make([]string, 0, len(files))
	for name, fhs := range files {
		if len(fhs) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return files[names[0]][0]
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// WriteError writes the services' JSON error body. Middleware outside this
// package uses it so every failure has the same shape.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeError(w, status, message)
}
