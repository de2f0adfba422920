package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"
	BackendGemini  = "gemini"
)

type Config struct {
	HTTPAddr             string
	// MetricsAddr is where a standalone worker serves /metrics; "off" disables it.
	MetricsAddr          string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string
	MediaRoot string

	Log      LogConfig
	Worker   WorkerConfig
	Engines  EngineConfig
	Pipeline PipelineConfig
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// LeaseTimeout > 0 enables reclaiming running jobs whose heartbeat went stale.
	LeaseTimeout      time.Duration `yaml:"lease_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type EngineConfig struct {
	FFmpegBin string `yaml:"ffmpeg_bin"`

	// HFToken is the diarization credential. Read from HF_TOKEN only.
	HFToken        string   `yaml:"-"`
	DiarizeCommand []string `yaml:"diarize_command"`

	TranscribeBackend string `yaml:"transcribe_backend"` // whisper|openai|gemini
	WhisperBin        string `yaml:"whisper_bin"`
	WhisperModelsDir  string `yaml:"whisper_models_dir"`

	OpenAIKey     string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	GeminiKey   string `yaml:"-"`
	GeminiModel string `yaml:"gemini_model"`
}

type PipelineConfig struct {
	ConvertTimeout    time.Duration `yaml:"convert_timeout"`
	DiarizeTimeout    time.Duration `yaml:"diarize_timeout"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`

	HonorDiarizeFlag bool    `yaml:"honor_diarize_flag"`
	MergeGapSec      float64 `yaml:"merge_gap_sec"`
	MergeMinDurSec   float64 `yaml:"merge_min_dur_sec"`
	KeepWorkDir      bool    `yaml:"keep_workdir"`
}

// fileConfig is the shape of the optional YAML overlay.
type fileConfig struct {
	Log      *LogConfig      `yaml:"log"`
	Worker   *WorkerConfig   `yaml:"worker"`
	Engines  *EngineConfig   `yaml:"engines"`
	Pipeline *PipelineConfig `yaml:"pipeline"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		MediaRoot:   "media",
		Log:       LogConfig{Level: "info", Format: "json"},
		Worker: WorkerConfig{
			Concurrency:       1,
			PollInterval:      time.Second,
			HeartbeatInterval: 15 * time.Second,
		},
		Engines: EngineConfig{
			FFmpegBin:         "ffmpeg",
			DiarizeCommand:    []string{"python3", "scripts/diarize.py"},
			TranscribeBackend: BackendWhisper,
			WhisperBin:        "whisper-cli",
			WhisperModelsDir:  "models",
			OpenAIModel:       "whisper-1",
			GeminiModel:       "gemini-2.5-flash",
		},
		Pipeline: PipelineConfig{
			ConvertTimeout:    10 * time.Minute,
			DiarizeTimeout:    30 * time.Minute,
			TranscribeTimeout: 10 * time.Minute,
		},
	}
}

// Load reads .env, the optional YAML file named by OTONOTE_CONFIG and the
// process environment, in that order of increasing precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := getenv("OTONOTE_CONFIG", ""); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getenv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.DatabaseURL = getenv("DATABASE_URL", "")
	cfg.CORSAllowCredentials = getenv("CORS_ALLOW_CREDENTIALS", "false") == "true"
	cfg.JWTSecret = getenv("JWT_SECRET", "")
	cfg.MediaRoot = getenv("MEDIA_ROOT", cfg.MediaRoot)

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	cfg.Log.Level = getenv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenv("LOG_FORMAT", cfg.Log.Format)

	var err error
	if cfg.Worker.Concurrency, err = getenvInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency); err != nil {
		return Config{}, err
	}
	if cfg.Worker.PollInterval, err = getenvDuration("POLL_INTERVAL", cfg.Worker.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.Worker.LeaseTimeout, err = getenvDuration("LEASE_TIMEOUT", cfg.Worker.LeaseTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Worker.HeartbeatInterval, err = getenvDuration("HEARTBEAT_INTERVAL", cfg.Worker.HeartbeatInterval); err != nil {
		return Config{}, err
	}

	e := &cfg.Engines
	e.FFmpegBin = getenv("FFMPEG_BIN", e.FFmpegBin)
	e.HFToken = getenv("HF_TOKEN", "")
	if cmd := getenv("DIARIZE_COMMAND", ""); cmd != "" {
		e.DiarizeCommand = strings.Fields(cmd)
	}
	e.TranscribeBackend = strings.ToLower(getenv("TRANSCRIBE_BACKEND", e.TranscribeBackend))
	e.WhisperBin = getenv("WHISPER_BIN", e.WhisperBin)
	e.WhisperModelsDir = getenv("WHISPER_MODELS_DIR", e.WhisperModelsDir)
	e.OpenAIKey = getenv("OPENAI_API_KEY", "")
	e.OpenAIBaseURL = getenv("OPENAI_BASE_URL", e.OpenAIBaseURL)
	e.OpenAIModel = getenv("OPENAI_MODEL", e.OpenAIModel)
	e.GeminiKey = getenv("GEMINI_API_KEY", "")
	e.GeminiModel = getenv("GEMINI_MODEL", e.GeminiModel)

	p := &cfg.Pipeline
	if p.ConvertTimeout, err = getenvDuration("CONVERT_TIMEOUT", p.ConvertTimeout); err != nil {
		return Config{}, err
	}
	if p.DiarizeTimeout, err = getenvDuration("DIARIZE_TIMEOUT", p.DiarizeTimeout); err != nil {
		return Config{}, err
	}
	if p.TranscribeTimeout, err = getenvDuration("TRANSCRIBE_TIMEOUT", p.TranscribeTimeout); err != nil {
		return Config{}, err
	}
	p.HonorDiarizeFlag = getenv("HONOR_DIARIZE_FLAG", strconv.FormatBool(p.HonorDiarizeFlag)) == "true"
	p.KeepWorkDir = getenv("KEEP_WORKDIR", strconv.FormatBool(p.KeepWorkDir)) == "true"
	if p.MergeGapSec, err = getenvFloat("MERGE_GAP_SEC", p.MergeGapSec); err != nil {
		return Config{}, err
	}
	if p.MergeMinDurSec, err = getenvFloat("MERGE_MIN_DUR_SEC", p.MergeMinDurSec); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("missing env: DATABASE_URL")
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = time.Second
	}
	if err := cfg.Worker.validateLease(); err != nil {
		return Config{}, err
	}
	switch e.TranscribeBackend {
	case BackendWhisper, BackendOpenAI, BackendGemini:
	default:
		return Config{}, fmt.Errorf("unknown TRANSCRIBE_BACKEND %q", e.TranscribeBackend)
	}

	return cfg, nil
}

// validateLease rejects a lease timeout that live heartbeats could not keep
// ahead of. Two missed beats are tolerated before a job is reclaimed.
func (w WorkerConfig) validateLease() error {
	if w.LeaseTimeout <= 0 {
		return nil
	}
	if w.HeartbeatInterval <= 0 {
		return errors.New("LEASE_TIMEOUT requires a positive HEARTBEAT_INTERVAL")
	}
	if w.LeaseTimeout < 2*w.HeartbeatInterval {
		return fmt.Errorf("LEASE_TIMEOUT %s must be at least twice HEARTBEAT_INTERVAL %s", w.LeaseTimeout, w.HeartbeatInterval)
	}
	return nil
}

// MetricsEnabled reports whether a standalone metrics listener should run.
func (c Config) MetricsEnabled() bool {
	return c.MetricsAddr != "" && c.MetricsAddr != "off"
}

// RequireJWT is checked by entrypoints that serve the API.
func (c Config) RequireJWT() error {
	if c.JWTSecret == "" {
		return errors.New("missing env: JWT_SECRET")
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	fc := fileConfig{
		Log:      &cfg.Log,
		Worker:   &cfg.Worker,
		Engines:  &cfg.Engines,
		Pipeline: &cfg.Pipeline,
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
