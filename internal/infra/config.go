package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents worker configuration loaded from environment variables.
// It is read once at startup and treated as immutable afterwards.
type Config struct {
	AppEnv        string
	Port          string
	WorkerVersion string
	Variant       string
	VariantsDir   string
	Warmup        bool

	ModelsDir  string
	HFCacheDir string
	HFToken    string
	HFEndpoint string
	HFRevision string
	HFTimeout  time.Duration

	EngineDir            string
	EngineCommand        string
	EngineArgs           []string
	EngineListen         string
	EngineHost           string
	EnginePort           int
	EngineStartupTimeout time.Duration
	EngineReadyInterval  time.Duration

	SubmitTimeout   time.Duration
	PollTimeout     time.Duration
	FetchTimeout    time.Duration
	JobPollInterval time.Duration
	JobMaxAttempts  int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	MaxInFlight      int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Values from .env and .env.local are merged in when those files exist; the
// process environment always wins.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8000"),
		WorkerVersion: getEnv("WORKER_VERSION", "v1"),
		Variant:       getEnv("WORKER_VARIANT", "flux1-schnell"),
		VariantsDir:   os.Getenv("VARIANTS_DIR"),
		Warmup:        getEnvBool("WARMUP", false),

		ModelsDir:  getEnv("MODELS_DIR", "/root/ComfyUI/models"),
		HFCacheDir: getEnv("HF_CACHE_DIR", "/cache"),
		HFToken:    strings.TrimSpace(os.Getenv("HF_TOKEN")),
		HFEndpoint: getEnv("HF_ENDPOINT", "https://huggingface.co"),
		HFRevision: getEnv("HF_REVISION", "main"),
		HFTimeout:  time.Second * time.Duration(getEnvInt("HF_TIMEOUT_SECONDS", 1800)),

		EngineDir:            getEnv("ENGINE_DIR", "/root/ComfyUI"),
		EngineCommand:        getEnv("ENGINE_COMMAND", "python3"),
		EngineArgs:           strings.Fields(getEnv("ENGINE_ARGS", "main.py")),
		EngineListen:         getEnv("ENGINE_LISTEN", "0.0.0.0"),
		EngineHost:           getEnv("ENGINE_HOST", "127.0.0.1"),
		EnginePort:           getEnvInt("ENGINE_PORT", 8188),
		EngineStartupTimeout: time.Second * time.Duration(getEnvInt("ENGINE_STARTUP_TIMEOUT_SECONDS", 60)),
		EngineReadyInterval:  time.Millisecond * time.Duration(getEnvInt("ENGINE_READY_INTERVAL_MS", 1000)),

		SubmitTimeout:   time.Second * time.Duration(getEnvInt("SUBMIT_TIMEOUT_SECONDS", 180)),
		PollTimeout:     time.Second * time.Duration(getEnvInt("POLL_TIMEOUT_SECONDS", 10)),
		FetchTimeout:    time.Second * time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)),
		JobPollInterval: time.Millisecond * time.Duration(getEnvInt("JOB_POLL_INTERVAL_MS", 1000)),
		JobMaxAttempts:  getEnvInt("JOB_MAX_ATTEMPTS", 120),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		MaxInFlight:      getEnvInt("MAX_IN_FLIGHT", 0),
	}

	if cfg.EnginePort <= 0 || cfg.EnginePort > 65535 {
		return nil, fmt.Errorf("ENGINE_PORT must be between 1 and 65535, got %d", cfg.EnginePort)
	}
	if cfg.JobMaxAttempts <= 0 {
		return nil, fmt.Errorf("JOB_MAX_ATTEMPTS must be positive")
	}
	if len(cfg.EngineArgs) == 0 {
		return nil, fmt.Errorf("ENGINE_ARGS must not be empty")
	}

	return cfg, nil
}

// EngineBaseURL is the address the worker uses to reach the local engine.
func (c *Config) EngineBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.EngineHost, c.EnginePort)
}

// InvocationBudget is the longest a single invocation can legitimately take:
// engine startup, submission, the full polling window and the artifact
// download.
func (c *Config) InvocationBudget() time.Duration {
	poll := time.Duration(c.JobMaxAttempts+1) * c.JobPollInterval
	return c.EngineStartupTimeout + c.SubmitTimeout + poll + c.FetchTimeout
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}
