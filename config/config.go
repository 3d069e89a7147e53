// Package config collects the command line flags and environment
// overrides of the rproxy daemon and maps them to the Options of the
// root package.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/rproxy"
	"github.com/zalando/rproxy/circuit"
	"github.com/zalando/rproxy/healthcheck"
	"github.com/zalando/rproxy/proxy"
	"github.com/zalando/rproxy/ratelimit"
)

// Config holds the parsed configuration of the daemon.
type Config struct {
	flags *flag.FlagSet

	PrintVersion bool `yaml:"version"`

	// generic:
	ConfigRoot   string `yaml:"config-root"`
	DataRoot     string `yaml:"data-root"`
	Address      string `yaml:"address"`
	TLSAddress   string `yaml:"tls-address"`
	StatsAddress string `yaml:"stats-address"`

	// logging:
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`

	// rate limiting:
	RatelimitMaxHits   int           `yaml:"ratelimit-max-hits"`
	RatelimitWindow    time.Duration `yaml:"ratelimit-window"`
	RatelimitCacheSize int           `yaml:"ratelimit-cache-size"`

	// circuit breaker:
	BreakerFailures         int           `yaml:"breaker-failures"`
	BreakerWindow           time.Duration `yaml:"breaker-window"`
	BreakerTimeout          time.Duration `yaml:"breaker-timeout"`
	BreakerHalfOpenRequests int           `yaml:"breaker-half-open-requests"`

	// health checks:
	HealthcheckInterval         time.Duration `yaml:"healthcheck-interval"`
	HealthcheckTimeout          time.Duration `yaml:"healthcheck-timeout"`
	HealthcheckFailureThreshold int           `yaml:"healthcheck-failure-threshold"`

	// upstream:
	UpstreamTimeout time.Duration `yaml:"upstream-timeout"`
	UpstreamRetries int           `yaml:"upstream-retries"`
	ShutdownGrace   time.Duration `yaml:"shutdown-grace"`
}

// NewConfig registers the flags of the daemon.
func NewConfig() *Config {
	cfg := new(Config)

	flags := flag.NewFlagSet("", flag.ExitOnError)

	flags.BoolVar(&cfg.PrintVersion, "version", false, "print version and exit")

	flags.StringVar(&cfg.ConfigRoot, "config-root", rproxy.DefaultConfigRoot, "directory of the route database")
	flags.StringVar(&cfg.DataRoot, "data-root", rproxy.DefaultDataRoot, "directory of the TLS material and ACME challenges, overridable with RPROXY_DATA_DIR")
	flags.StringVar(&cfg.Address, "address", rproxy.DefaultAddress, "public cleartext listener address")
	flags.StringVar(&cfg.TLSAddress, "tls-address", rproxy.DefaultTLSAddress, "public TLS listener address, used when the key pair exists")
	flags.StringVar(&cfg.StatsAddress, "stats-address", rproxy.DefaultStatsAddress, "internal statistics listener address")

	flags.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level of the application log, overridable with LOG_LEVEL: DEBUG, INFO, WARN or ERROR")

	flags.IntVar(&cfg.RatelimitMaxHits, "ratelimit-max-hits", ratelimit.DefaultMaxHits, "requests allowed per client within one window")
	flags.DurationVar(&cfg.RatelimitWindow, "ratelimit-window", ratelimit.DefaultWindow, "length of the rate limiting window")
	flags.IntVar(&cfg.RatelimitCacheSize, "ratelimit-cache-size", ratelimit.DefaultCacheSize, "number of tracked clients")

	flags.IntVar(&cfg.BreakerFailures, "breaker-failures", circuit.DefaultFailures, "failures within the window that open a breaker")
	flags.DurationVar(&cfg.BreakerWindow, "breaker-window", circuit.DefaultWindow, "breaker failure monitoring window")
	flags.DurationVar(&cfg.BreakerTimeout, "breaker-timeout", circuit.DefaultTimeout, "how long an open breaker rejects before going half-open")
	flags.IntVar(&cfg.BreakerHalfOpenRequests, "breaker-half-open-requests", circuit.DefaultHalfOpenRequests, "successes required to close a half-open breaker")

	flags.DurationVar(&cfg.HealthcheckInterval, "healthcheck-interval", healthcheck.DefaultInterval, "interval between two probes of a backend")
	flags.DurationVar(&cfg.HealthcheckTimeout, "healthcheck-timeout", healthcheck.DefaultTimeout, "timeout of a single probe leg")
	flags.IntVar(&cfg.HealthcheckFailureThreshold, "healthcheck-failure-threshold", healthcheck.DefaultFailureThreshold, "consecutive probe failures that flip a backend unhealthy")

	flags.DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", proxy.DefaultTimeout, "absolute deadline of a proxied request")
	flags.IntVar(&cfg.UpstreamRetries, "upstream-retries", proxy.DefaultRetries, "retries after a failed upstream attempt")
	flags.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", 20*time.Second, "how long in-flight requests may finish on shutdown")

	cfg.flags = flags
	return cfg
}

// Parse reads the command line and applies the environment overrides.
func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[1:])
}

func (c *Config) ParseArgs(args []string) error {
	if err := c.flags.Parse(args); err != nil {
		return err
	}

	if dataRoot := os.Getenv("RPROXY_DATA_DIR"); dataRoot != "" {
		c.DataRoot = dataRoot
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.ApplicationLogLevelString = level
	}

	logLevel, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	c.ApplicationLogLevel = logLevel
	return nil
}

func (c *Config) ToOptions() rproxy.Options {
	return rproxy.Options{
		ConfigRoot:   c.ConfigRoot,
		DataRoot:     c.DataRoot,
		Address:      c.Address,
		TLSAddress:   c.TLSAddress,
		StatsAddress: c.StatsAddress,
		Ratelimit: ratelimit.Settings{
			MaxHits:   c.RatelimitMaxHits,
			Window:    c.RatelimitWindow,
			CacheSize: c.RatelimitCacheSize,
		},
		Breaker: circuit.BreakerSettings{
			Failures:         c.BreakerFailures,
			Window:           c.BreakerWindow,
			Timeout:          c.BreakerTimeout,
			HalfOpenRequests: c.BreakerHalfOpenRequests,
		},
		Healthcheck: healthcheck.Settings{
			Interval:         c.HealthcheckInterval,
			Timeout:          c.HealthcheckTimeout,
			FailureThreshold: c.HealthcheckFailureThreshold,
		},
		UpstreamTimeout: c.UpstreamTimeout,
		Retries:         c.UpstreamRetries,
		ShutdownGrace:   c.ShutdownGrace,
	}
}
