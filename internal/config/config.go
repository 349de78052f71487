package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultBaseURL         = "http://localhost:8000/api"
	defaultRequestTimeout  = 5 * time.Second
	defaultDevicesInterval = 10 * time.Second
	defaultSensorInterval  = 5 * time.Second
	defaultStreamInterval  = 1 * time.Second
	defaultJournalPath     = "file:journal?mode=memory&cache=shared"

	envPrefix = "VALVE"
)

// Config holds the runtime configuration of the dashboard client.
type Config struct {
	Port            string
	LogLevel        string
	BaseURL         string
	RequestTimeout  time.Duration
	DevicesInterval time.Duration
	SensorInterval  time.Duration
	StreamInterval  time.Duration
	JournalPath     string
	AllowOrigins    []string
}

// Load builds a Config from (lowest to highest precedence) defaults,
// configs/config.yml, VALVE_* env variables and command-line flags.
// A missing config file is not an error.
func Load(args []string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("valve_dashboard", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (default configs/config.yml)")
	fs.String("port", defaultPort, "local API port")
	fs.String("backend-url", defaultBaseURL, "backend REST base URL")
	fs.String("log-level", defaultLogLevel, "debug | info | warn | error")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}
	bindFlag(v, fs, "port", "port")
	bindFlag(v, fs, "backend.base_url", "backend-url")
	bindFlag(v, fs, "log.level", "log-level")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configPath != "" {
		v.SetConfigFile(*configPath)
	} else {
		v.AddConfigPath("configs") // configs/config.yml
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || *configPath != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Port:            v.GetString("port"),
		LogLevel:        v.GetString("log.level"),
		BaseURL:         strings.TrimRight(v.GetString("backend.base_url"), "/"),
		RequestTimeout:  v.GetDuration("backend.timeout"),
		DevicesInterval: v.GetDuration("poll.devices_interval"),
		SensorInterval:  v.GetDuration("poll.sensor_interval"),
		StreamInterval:  v.GetDuration("stream.interval"),
		JournalPath:     v.GetString("journal.path"),
		AllowOrigins:    v.GetStringSlice("http.allow_origins"),
	}
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", defaultPort)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("backend.base_url", defaultBaseURL)
	v.SetDefault("backend.timeout", defaultRequestTimeout)
	v.SetDefault("poll.devices_interval", defaultDevicesInterval)
	v.SetDefault("poll.sensor_interval", defaultSensorInterval)
	v.SetDefault("stream.interval", defaultStreamInterval)
	v.SetDefault("journal.path", defaultJournalPath)
	v.SetDefault("http.allow_origins", []string{"*"})
}

// bindFlag binds a flag only when it was set explicitly, so that an unset
// flag's default does not shadow config file or env values.
func bindFlag(v *viper.Viper, fs *pflag.FlagSet, key, name string) {
	if f := fs.Lookup(name); f != nil && f.Changed {
		_ = v.BindPFlag(key, f)
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend.base_url %q", c.BaseURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("backend.timeout must be > 0, got %s", c.RequestTimeout)
	}
	if c.DevicesInterval <= 0 || c.SensorInterval <= 0 {
		return fmt.Errorf("poll intervals must be > 0 (devices=%s, sensor=%s)", c.DevicesInterval, c.SensorInterval)
	}
	if c.StreamInterval <= 0 {
		return fmt.Errorf("stream.interval must be > 0, got %s", c.StreamInterval)
	}
	return nil
}
