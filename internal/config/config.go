// Package config assembles the settings used by vtx.
// Values are layered once from env files, the process environment, the
// project's project.env and CLI flags, then handed around as an immutable
// Settings value. Nothing in vtx reads the process environment after that.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Environment variable names
	EnvAppHome         = "VTX_APP_HOME"
	EnvProjectsRoot    = "VTX_PROJECTS_ROOT"
	EnvDefaultPipeline = "VTX_DEFAULT_PIPELINE"
	EnvFailFast        = "VTX_FAIL_FAST"
	EnvMaxParallelJobs = "VTX_MAX_PARALLEL_JOBS"
	EnvLogLevel        = "VTX_LOG_LEVEL"
	EnvLogFormat       = "VTX_LOG_FORMAT"
	EnvPython          = "VTX_PYTHON"
	EnvProbeTimeout    = "VTX_PROBE_TIMEOUT"
	EnvRenderTimeout   = "VTX_RENDER_TIMEOUT"
	EnvPort            = "VTX_PORT"
	EnvWidth           = "VTX_WIDTH"
	EnvHeight          = "VTX_HEIGHT"
	EnvFPS             = "VTX_FPS"

	// Model environment variable names
	EnvCheckpointPath       = "LTX_CHECKPOINT_PATH"
	EnvDistilledLoraPath    = "LTX_DISTILLED_LORA_PATH"
	EnvDistilledLoraWeight  = "LTX_DISTILLED_LORA_WEIGHT"
	EnvSpatialUpsamplerPath = "LTX_SPATIAL_UPSAMPLER_PATH"
	EnvGemmaRoot            = "LTX_GEMMA_ROOT"
	EnvICLoraPath           = "LTX_IC_LORA_PATH"
	EnvMaxFrames            = "LTX_MAX_FRAMES"
	EnvDefaultFPS           = "LTX_DEFAULT_FPS"
	EnvDefaultMaxSeconds    = "LTX_DEFAULT_MAX_SECONDS"
	EnvDefaultWidth         = "LTX_DEFAULT_WIDTH"
	EnvDefaultHeight        = "LTX_DEFAULT_HEIGHT"

	// Default values
	DefaultAppHomeDir          = ".vtx"
	DefaultPipeline            = "ti2vid_two_stages"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultPort                = 8788
	DefaultMaxParallelJobs     = 1
	DefaultProbeTimeout        = 30 * time.Second
	DefaultRenderTimeout       = 2 * time.Hour
	DefaultDistilledLoraWeight = 0.8
	DefaultMaxFrames           = 257
	DefaultFPS                 = 16
	DefaultMaxSeconds          = 15
	DefaultWidth               = 1536
	DefaultHeight              = 864

	// Registry database filename inside the app home
	RegistryFilename = "registry.sqlite"
)

// Options control where layered values come from. Zero values pick the
// process defaults.
type Options struct {
	// AppRoot holds config/global.env and config/models.env.
	AppRoot string
	// Environ replaces os.Environ(), mainly for tests.
	Environ []string

	// CLI flag overrides, applied after every other layer.
	LogLevel string
	Python   string
}

// Loader holds the base layers (env files + process env) and builds
// Settings for the global scope or for a single project.
type Loader struct {
	opts Options
	base map[string]string
}

// NewLoader reads config/global.env and config/models.env under the app
// root. Neither file overrides a value already present in the process
// environment.
func NewLoader(opts Options) (*Loader, error) {
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}

	base := map[string]string{}
	if opts.AppRoot != "" {
		for _, name := range []string{"global.env", "models.env"} {
			vals, err := readEnvFile(filepath.Join(opts.AppRoot, "config", name))
			if err != nil {
				return nil, err
			}
			for k, v := range vals {
				if _, ok := base[k]; !ok {
					base[k] = v
				}
			}
		}
	}

	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		base[k] = v
	}

	return &Loader{opts: opts, base: base}, nil
}

// Global returns settings without any project layer.
func (l *Loader) Global() (*Settings, error) {
	return l.ForProject("")
}

// ForProject returns settings with projectEnvPath layered on top. A missing
// project.env is not an error.
func (l *Loader) ForProject(projectEnvPath string) (*Settings, error) {
	vals := make(map[string]string, len(l.base))
	for k, v := range l.base {
		vals[k] = v
	}

	if projectEnvPath != "" {
		project, err := readEnvFile(projectEnvPath)
		if err != nil {
			return nil, err
		}
		for k, v := range project {
			vals[k] = v
		}
	}

	if l.opts.LogLevel != "" {
		vals[EnvLogLevel] = l.opts.LogLevel
	}
	if l.opts.Python != "" {
		vals[EnvPython] = l.opts.Python
	}

	return newSettings(vals)
}

func readEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot stat %s: %w", path, err)
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return vals, nil
}

// Settings is the resolved, read-only configuration for one scope.
type Settings struct {
	vals map[string]string

	appHome         string
	projectsRoot    string
	defaultPipeline string
	failFast        bool
	maxParallelJobs int
	logLevel        string
	logFormat       string
	python          string
	probeTimeout    time.Duration
	renderTimeout   time.Duration
	port            int

	envWidth  *int
	envHeight *int
	envFPS    *int

	checkpointPath       string
	distilledLoraPath    string
	distilledLoraWeight  float64
	spatialUpsamplerPath string
	gemmaRoot            string
	icLoraPath           string

	maxFrames         int
	defaultFPS        int
	defaultMaxSeconds int
	defaultWidth      int
	defaultHeight     int
}

func newSettings(vals map[string]string) (*Settings, error) {
	s := &Settings{vals: vals}
	var err error

	s.appHome = vals[EnvAppHome]
	if s.appHome == "" {
		s.appHome = defaultAppHome()
	}
	s.projectsRoot = vals[EnvProjectsRoot]
	if s.projectsRoot == "" {
		s.projectsRoot = filepath.Join(s.appHome, "projects")
	}

	s.defaultPipeline = stringOr(vals, EnvDefaultPipeline, DefaultPipeline)
	s.failFast = boolOr(vals, EnvFailFast, false)
	s.logLevel = stringOr(vals, EnvLogLevel, DefaultLogLevel)
	s.logFormat = stringOr(vals, EnvLogFormat, DefaultLogFormat)
	s.python = vals[EnvPython]

	if s.maxParallelJobs, err = intOr(vals, EnvMaxParallelJobs, DefaultMaxParallelJobs); err != nil {
		return nil, err
	}
	if s.port, err = intOr(vals, EnvPort, DefaultPort); err != nil {
		return nil, err
	}
	if s.port < 1 || s.port > 65535 {
		return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}
	if s.probeTimeout, err = durationOr(vals, EnvProbeTimeout, DefaultProbeTimeout); err != nil {
		return nil, err
	}
	if s.renderTimeout, err = durationOr(vals, EnvRenderTimeout, DefaultRenderTimeout); err != nil {
		return nil, err
	}

	if s.envWidth, err = optionalInt(vals, EnvWidth); err != nil {
		return nil, err
	}
	if s.envHeight, err = optionalInt(vals, EnvHeight); err != nil {
		return nil, err
	}
	if s.envFPS, err = optionalInt(vals, EnvFPS); err != nil {
		return nil, err
	}

	s.checkpointPath = vals[EnvCheckpointPath]
	s.distilledLoraPath = vals[EnvDistilledLoraPath]
	s.spatialUpsamplerPath = vals[EnvSpatialUpsamplerPath]
	s.gemmaRoot = vals[EnvGemmaRoot]
	s.icLoraPath = vals[EnvICLoraPath]

	s.distilledLoraWeight = DefaultDistilledLoraWeight
	if v := strings.TrimSpace(vals[EnvDistilledLoraWeight]); v != "" {
		w, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvDistilledLoraWeight, perr)
		}
		s.distilledLoraWeight = w
	}

	if s.maxFrames, err = intOr(vals, EnvMaxFrames, DefaultMaxFrames); err != nil {
		return nil, err
	}
	if s.defaultFPS, err = intOr(vals, EnvDefaultFPS, DefaultFPS); err != nil {
		return nil, err
	}
	if s.defaultMaxSeconds, err = intOr(vals, EnvDefaultMaxSeconds, DefaultMaxSeconds); err != nil {
		return nil, err
	}
	if s.defaultWidth, err = intOr(vals, EnvDefaultWidth, DefaultWidth); err != nil {
		return nil, err
	}
	if s.defaultHeight, err = intOr(vals, EnvDefaultHeight, DefaultHeight); err != nil {
		return nil, err
	}

	return s, nil
}

// Lookup resolves any name through the same layers as the typed settings.
// It is how LoRA entries turn an env reference into a file path.
func (s *Settings) Lookup(name string) (string, bool) {
	v, ok := s.vals[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// AppHome returns the directory holding the registry database
func (s *Settings) AppHome() string {
	return s.appHome
}

// RegistryPath returns the full path to the SQLite registry file
func (s *Settings) RegistryPath() string {
	return filepath.Join(s.appHome, RegistryFilename)
}

func (s *Settings) ProjectsRoot() string {
	return s.projectsRoot
}

func (s *Settings) DefaultPipeline() string {
	return s.defaultPipeline
}

// FailFast reports whether backend failures should stop a batch.
func (s *Settings) FailFast() bool {
	return s.failFast
}

func (s *Settings) MaxParallelJobs() int {
	return s.maxParallelJobs
}

// LogLevel returns the log level (debug, info, warn, error)
func (s *Settings) LogLevel() string {
	return s.logLevel
}

func (s *Settings) LogFormat() string {
	return s.logFormat
}

// Python returns the configured interpreter; empty means auto-detect.
func (s *Settings) Python() string {
	return s.python
}

func (s *Settings) ProbeTimeout() time.Duration {
	return s.probeTimeout
}

func (s *Settings) RenderTimeout() time.Duration {
	return s.renderTimeout
}

// Port returns the status API port
func (s *Settings) Port() int {
	return s.port
}

// EnvWidth, EnvHeight and EnvFPS are the optional environment overrides
// sitting between clip values and project defaults. Nil when unset.
func (s *Settings) EnvWidth() *int  { return copyInt(s.envWidth) }
func (s *Settings) EnvHeight() *int { return copyInt(s.envHeight) }
func (s *Settings) EnvFPS() *int    { return copyInt(s.envFPS) }

func (s *Settings) CheckpointPath() string       { return s.checkpointPath }
func (s *Settings) DistilledLoraPath() string    { return s.distilledLoraPath }
func (s *Settings) DistilledLoraWeight() float64 { return s.distilledLoraWeight }
func (s *Settings) SpatialUpsamplerPath() string { return s.spatialUpsamplerPath }
func (s *Settings) GemmaRoot() string            { return s.gemmaRoot }
func (s *Settings) ICLoraPath() string           { return s.icLoraPath }

// MaxFrames is the platform-wide frame ceiling.
func (s *Settings) MaxFrames() int         { return s.maxFrames }
func (s *Settings) DefaultFPS() int        { return s.defaultFPS }
func (s *Settings) DefaultMaxSeconds() int { return s.defaultMaxSeconds }
func (s *Settings) DefaultWidth() int      { return s.defaultWidth }
func (s *Settings) DefaultHeight() int     { return s.defaultHeight }

// Redacted returns a copy of the typed settings suitable for printing.
func (s *Settings) Redacted() map[string]string {
	out := map[string]string{
		EnvAppHome:              s.appHome,
		EnvProjectsRoot:         s.projectsRoot,
		EnvDefaultPipeline:      s.defaultPipeline,
		EnvFailFast:             strconv.FormatBool(s.failFast),
		EnvMaxParallelJobs:      strconv.Itoa(s.maxParallelJobs),
		EnvLogLevel:             s.logLevel,
		EnvPython:               s.python,
		EnvProbeTimeout:         s.probeTimeout.String(),
		EnvRenderTimeout:        s.renderTimeout.String(),
		EnvCheckpointPath:       s.checkpointPath,
		EnvDistilledLoraPath:    s.distilledLoraPath,
		EnvDistilledLoraWeight:  strconv.FormatFloat(s.distilledLoraWeight, 'f', -1, 64),
		EnvSpatialUpsamplerPath: s.spatialUpsamplerPath,
		EnvGemmaRoot:            s.gemmaRoot,
		EnvICLoraPath:           s.icLoraPath,
		EnvMaxFrames:            strconv.Itoa(s.maxFrames),
		EnvDefaultFPS:           strconv.Itoa(s.defaultFPS),
		EnvDefaultMaxSeconds:    strconv.Itoa(s.defaultMaxSeconds),
		EnvDefaultWidth:         strconv.Itoa(s.defaultWidth),
		EnvDefaultHeight:        strconv.Itoa(s.defaultHeight),
	}
	if key, ok := s.Lookup("OPENAI_API_KEY"); ok && key != "" {
		out["OPENAI_API_KEY"] = "sk-..."
	}
	return out
}

func stringOr(vals map[string]string, key, def string) string {
	if v := strings.TrimSpace(vals[key]); v != "" {
		return v
	}
	return def
}

func boolOr(vals map[string]string, key string, def bool) bool {
	v, ok := vals[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func intOr(vals map[string]string, key string, def int) (int, error) {
	v := strings.TrimSpace(vals[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func optionalInt(vals map[string]string, key string) (*int, error) {
	v := strings.TrimSpace(vals[key])
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &n, nil
}

// durationOr accepts Go durations ("90s") or bare seconds ("90").
func durationOr(vals map[string]string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(vals[key])
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// defaultAppHome returns the default app home path
func defaultAppHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultAppHomeDir
	}
	return filepath.Join(home, DefaultAppHomeDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
