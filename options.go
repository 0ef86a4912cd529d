package yozora

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSocketName is used when neither WithSocketName nor
	// YOZORA_DISPLAY names the socket.
	DefaultSocketName = "wayland-5"

	// DefaultMaxAcceptsPerStep bounds how many connections one AcceptStep
	// takes before returning to dispatch.
	DefaultMaxAcceptsPerStep = 16

	// DefaultFrameInterval paces wl_surface.frame callbacks at 60Hz.
	DefaultFrameInterval = time.Second / 60
)

// OutputInfo describes the single wl_output the session advertises. A
// zero Width or Height advertises no mode.
type OutputInfo struct {
	Name        string
	Description string
	Make        string
	Model       string

	PhysicalWidth  int32 // millimetres
	PhysicalHeight int32

	Width   int32 // pixels
	Height  int32
	Refresh int32 // mHz
	Scale   int32
}

// DefaultOutput is the output advertised when WithOutput is not given.
var DefaultOutput = OutputInfo{
	Name:        "winit",
	Description: "Toy Winit",
	Make:        "Toy",
	Model:       "Winit",
	Scale:       1,
}

// Option configures a Session.
type Option func(*options)

type options struct {
	socketName      string
	runtimeDir      string
	maxAccepts      int
	frameInterval   time.Duration
	surfaceFeedback func(*Surface) *Feedback
	log             logrus.FieldLogger
	output          OutputInfo
}

func defaultOptions() options {
	name := os.Getenv("YOZORA_DISPLAY")
	if name == "" {
		name = DefaultSocketName
	}
	return options{
		socketName:    name,
		runtimeDir:    os.Getenv("XDG_RUNTIME_DIR"),
		maxAccepts:    DefaultMaxAcceptsPerStep,
		frameInterval: DefaultFrameInterval,
		output:        DefaultOutput,
	}
}

// WithSocketName sets the socket name. Relative names are resolved
// against the runtime directory; absolute paths are used as they are.
func WithSocketName(name string) Option {
	return func(o *options) {
		o.socketName = name
	}
}

// WithRuntimeDir overrides $XDG_RUNTIME_DIR
func WithRuntimeDir(dir string) Option {
	return func(o *options) {
		o.runtimeDir = dir
	}
}

// WithMaxAcceptsPerStep bounds the connections accepted per AcceptStep.
func WithMaxAcceptsPerStep(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAccepts = n
		}
	}
}

// WithFrameInterval sets the minimum time between frame callback rounds.
// Zero fires pending callbacks on every DispatchStep.
func WithFrameInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.frameInterval = d
		}
	}
}

// WithSurfaceFeedback installs a per-surface dmabuf feedback override.
// Returning nil falls back to the session default.
func WithSurfaceFeedback(fn func(*Surface) *Feedback) Option {
	return func(o *options) {
		o.surfaceFeedback = fn
	}
}

// WithLogger sets the session logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithOutput sets the advertised output
func WithOutput(info OutputInfo) Option {
	return func(o *options) {
		if info.Scale <= 0 {
			info.Scale = 1
		}
		o.output = info
	}
}

// socketPath resolves the listening socket path.
func (o *options) socketPath() (string, error) {
	if filepath.IsAbs(o.socketName) {
		return o.socketName, nil
	}
	if o.runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(o.runtimeDir, o.socketName), nil
}
