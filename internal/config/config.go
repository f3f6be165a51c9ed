package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr    = ":8080"
	defaultGRPCAddr    = ":9091"
	defaultSignInPath  = "/signin"
	defaultRevalidate  = 5 * time.Minute
	defaultProbeTO     = 5 * time.Second
	defaultRateBurst   = 20
	defaultRatePerSec  = 10
	defaultMaxBodySize = 1 << 20
)

// Config carries everything the binaries read from the environment.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	GRPCAddr    string

	// Session tokens issued by the external auth provider.
	AuthSecret string
	AuthIssuer string

	// Admin gate.
	AdminAllowlist []string
	SignInPath     string
	Revalidate     time.Duration
	ProbeTimeout   time.Duration

	// Security event collector; empty disables the remote sink.
	SecurityLogURL string
	Production     bool

	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
}

// Load reads configuration from the environment, preferring a local .env
// file when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL:    os.Getenv("VERANO_PG_DSN"),
		HTTPAddr:       getenvDefault("VERANO_HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:       getenvDefault("VERANO_GRPC_ADDR", defaultGRPCAddr),
		AuthSecret:     strings.TrimSpace(os.Getenv("VERANO_AUTH_SECRET")),
		AuthIssuer:     getenvDefault("VERANO_AUTH_ISSUER", "verano-auth"),
		AdminAllowlist: splitList(os.Getenv("VERANO_ADMIN_EMAILS")),
		SignInPath:     getenvDefault("VERANO_SIGNIN_PATH", defaultSignInPath),
		Revalidate:     getenvDurationDefault("VERANO_GATE_REVALIDATE", defaultRevalidate),
		ProbeTimeout:   getenvDurationDefault("VERANO_PROBE_TIMEOUT", defaultProbeTO),
		SecurityLogURL: strings.TrimSpace(os.Getenv("VERANO_SECLOG_URL")),
		Production:     getenvBoolDefault("VERANO_PRODUCTION", false),
		RateBurst:      getenvIntDefault("VERANO_RATE_BURST", defaultRateBurst),
		RatePerSec:     getenvIntDefault("VERANO_RATE_PER_SEC", defaultRatePerSec),
		MaxBodyBytes:   defaultMaxBodySize,
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
