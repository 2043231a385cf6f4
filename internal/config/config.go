// Package config loads the command-line configuration of the Shutter
// binaries. Every flag defaults to an environment variable, and a .env file
// is read first so deployments can keep their settings next to the binary.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvFileVar names the variable that overrides the .env file location.
const EnvFileVar = "SHUTTER_ENV_FILE"

// Server holds the listener settings shared by both services.
type Server struct {
	Host           string  `validate:"required"`
	Port           int     `validate:"min=1,max=65535"`
	MaxUploadBytes int64   `validate:"min=1"`
	RateLimit      float64 `validate:"gte=0"`
	RateBurst      int     `validate:"gte=0"`
	TrustProxy     bool
}

// Addr returns the host:port listen address.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Log holds the logger settings shared by every binary.
type Log struct {
	Level string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic silent none"`
	File  string
	Color bool
}

// Gesture configures the victory-gesture service.
type Gesture struct {
	Server Server
	Log    Log

	MaxHands        int     `validate:"min=1"`
	MinConfidence   float64 `validate:"gte=0,lte=1"`
	MediaPipeScript string
	Python          string
	DetectTimeout   time.Duration `validate:"gt=0"`
}

// Smile configures the smile service.
type Smile struct {
	Server Server
	Log    Log

	FaceCascade    string
	SmileCascade   string
	FaceScale      float64 `validate:"gt=1"`
	FaceNeighbors  int     `validate:"gte=0"`
	SmileScale     float64 `validate:"gt=1"`
	SmileNeighbors int     `validate:"gte=0"`
	SmileMinSize   int     `validate:"gte=0"`
}

// Client configures the capture client.
type Client struct {
	Log Log

	URL         string        `validate:"required,url"`
	Camera      string        `validate:"required"`
	Interval    time.Duration `validate:"gt=0"`
	Timeout     time.Duration `validate:"gt=0"`
	Album       string        `validate:"omitempty,excludesall=/\\,ne=.,ne=.."`
	DataDir     string        `validate:"required"`
	HooksDir    string
	HookTimeout time.Duration `validate:"gt=0"`
}

// LoadGesture parses the gesture service's arguments.
func LoadGesture(args []string) (*Gesture, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Gesture
	env := &envReader{}
	fs := flag.NewFlagSet("shutter-gesture", flag.ContinueOnError)
	bindServer(fs, env, &cfg.Server)
	bindLog(fs, env, &cfg.Log)
	fs.IntVar(&cfg.MaxHands, "max-hands", env.int("SHUTTER_MAX_HANDS", 2), "maximum hands reported per frame")
	fs.Float64Var(&cfg.MinConfidence, "min-confidence", env.float("SHUTTER_MIN_CONFIDENCE", 0.5), "minimum hand detection confidence")
	fs.StringVar(&cfg.MediaPipeScript, "mediapipe-script", env.string("SHUTTER_MEDIAPIPE_SCRIPT", ""), "path to the MediaPipe hand script")
	fs.StringVar(&cfg.Python, "python", env.string("SHUTTER_PYTHON", ""), "python interpreter for the hand script")
	fs.DurationVar(&cfg.DetectTimeout, "detect-timeout", env.duration("SHUTTER_DETECT_TIMEOUT", 10*time.Second), "longest wait for the hand script to answer one frame")

	if err := parse(fs, env, args, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSmile parses the smile service's arguments.
func LoadSmile(args []string) (*Smile, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Smile
	env := &envReader{}
	fs := flag.NewFlagSet("shutter-smile", flag.ContinueOnError)
	bindServer(fs, env, &cfg.Server)
	bindLog(fs, env, &cfg.Log)
	fs.StringVar(&cfg.FaceCascade, "face-cascade", env.string("SHUTTER_FACE_CASCADE", ""), "frontal face cascade XML")
	fs.StringVar(&cfg.SmileCascade, "smile-cascade", env.string("SHUTTER_SMILE_CASCADE", ""), "smile cascade XML")
	fs.Float64Var(&cfg.FaceScale, "face-scale", env.float("SHUTTER_FACE_SCALE", 1.3), "face cascade scale factor")
	fs.IntVar(&cfg.FaceNeighbors, "face-neighbors", env.int("SHUTTER_FACE_NEIGHBORS", 5), "face cascade min neighbors")
	fs.Float64Var(&cfg.SmileScale, "smile-scale", env.float("SHUTTER_SMILE_SCALE", 1.9), "smile cascade scale factor")
	fs.IntVar(&cfg.SmileNeighbors, "smile-neighbors", env.int("SHUTTER_SMILE_NEIGHBORS", 30), "smile cascade min neighbors")
	fs.IntVar(&cfg.SmileMinSize, "smile-min-size", env.int("SHUTTER_SMILE_MIN_SIZE", 80), "smallest smile in pixels")

	if err := parse(fs, env, args, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient parses the capture client's arguments.
func LoadClient(args []string) (*Client, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Client
	env := &envReader{}
	fs := flag.NewFlagSet("shutter-client", flag.ContinueOnError)
	bindLog(fs, env, &cfg.Log)
	fs.StringVar(&cfg.URL, "url", env.string("SHUTTER_URL", "http://127.0.0.1:8000/detect"), "verdict endpoint")
	fs.StringVar(&cfg.Camera, "camera", env.string("SHUTTER_CAMERA", "0"), "camera device id or video file")
	fs.DurationVar(&cfg.Interval, "interval", env.duration("SHUTTER_INTERVAL", 300*time.Millisecond), "pause between frames")
	fs.DurationVar(&cfg.Timeout, "timeout", env.duration("SHUTTER_TIMEOUT", 5*time.Second), "request timeout")
	fs.StringVar(&cfg.Album, "album", env.string("SHUTTER_ALBUM", ""), "save positive frames into this album")
	fs.StringVar(&cfg.DataDir, "data-dir", env.string("SHUTTER_DATA_DIR", defaultDataDir()), "catalog and photo directory")
	fs.StringVar(&cfg.HooksDir, "hooks-dir", env.string("SHUTTER_HOOKS_DIR", ""), "verdict hook directory (default <data-dir>/hooks)")
	fs.DurationVar(&cfg.HookTimeout, "hook-timeout", env.duration("SHUTTER_HOOK_TIMEOUT", 5*time.Second), "per-hook execution timeout")

	if err := parse(fs, env, args, &cfg); err != nil {
		return nil, err
	}
	if cfg.HooksDir == "" {
		cfg.HooksDir = filepath.Join(cfg.DataDir, "hooks")
	}
	return &cfg, nil
}

func bindServer(fs *flag.FlagSet, env *envReader, s *Server) {
	fs.StringVar(&s.Host, "host", env.string("SHUTTER_HOST", "0.0.0.0"), "listen host")
	fs.IntVar(&s.Port, "port", env.int("SHUTTER_PORT", 8000), "listen port")
	fs.Int64Var(&s.MaxUploadBytes, "max-upload-bytes", env.int64("SHUTTER_MAX_UPLOAD_BYTES", 10<<20), "largest accepted request body")
	fs.Float64Var(&s.RateLimit, "rate-limit", env.float("SHUTTER_RATE_LIMIT", 0), "requests per second per client IP (0 disables)")
	fs.IntVar(&s.RateBurst, "rate-burst", env.int("SHUTTER_RATE_BURST", 10), "rate limiter burst")
	fs.BoolVar(&s.TrustProxy, "trust-proxy", env.bool("SHUTTER_TRUST_PROXY", false), "take the client IP from X-Forwarded-For")
}

func bindLog(fs *flag.FlagSet, env *envReader, l *Log) {
	fs.StringVar(&l.Level, "log-level", env.string("SHUTTER_LOG_LEVEL", "info"), "log level")
	fs.StringVar(&l.File, "log-file", env.string("SHUTTER_LOG_FILE", ""), "also write logs to this rotating file")
	fs.BoolVar(&l.Color, "log-color", env.bool("SHUTTER_LOG_COLOR", false), "colorize console logs")
}

// parse reports bad environment values before flag errors so a broken
// variable is not masked by a flag override.
func parse(fs *flag.FlagSet, env *envReader, args []string, cfg any) error {
	if err := env.err(); err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return Validate(cfg)
}

var validate = validator.New()

// Validate checks cfg against its struct tags.
func Validate(cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: %v fails %s", fe.Namespace(), fe.Value(), rule))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// loadDotEnv reads .env (or $SHUTTER_ENV_FILE) without overriding variables
// already set. A missing default file is not an error.
func loadDotEnv() error {
	path, explicit := os.LookupEnv(EnvFileVar)
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shutter"
	}
	return filepath.Join(home, ".shutter")
}
