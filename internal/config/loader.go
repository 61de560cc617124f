package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment override (GOLUMEN_PORT, ...).
const envPrefix = "GOLUMEN"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envSpec maps one environment variable to a config path. The short names
// exist so operators can set GOLUMEN_PORT instead of GOLUMEN_SERVER_PORT.
type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	return []envSpec{
		{envPrefix + "_HOST", "server.host"},
		{envPrefix + "_PORT", "server.port"},
		{envPrefix + "_READ_TIMEOUT", "server.read_timeout"},
		{envPrefix + "_WRITE_TIMEOUT", "server.write_timeout"},
		{envPrefix + "_IDLE_TIMEOUT", "server.idle_timeout"},
		{envPrefix + "_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{envPrefix + "_LOG_LEVEL", "logging.level"},
		{envPrefix + "_LOG_PROFILE", "logging.profile"},
		{envPrefix + "_LIBRARY_PATH", "library.path"},
		{envPrefix + "_MEDIA_ROOT", "library.media_root"},
		{envPrefix + "_JOBS_DIR", "jobs.dir"},
		{envPrefix + "_ANALYSIS_BASE_URL", "analysis.base_url"},
		{envPrefix + "_WORKERS", "workers"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("library.path", defaultLibraryPath())
	v.SetDefault("library.media_root", ".")

	v.SetDefault("jobs.dir", defaultJobsDir())

	v.SetDefault("analysis.base_url", "http://localhost:9400")
	v.SetDefault("analysis.timeout", "30s")
	v.SetDefault("analysis.poll_interval", "5s")
	v.SetDefault("analysis.poll_cache_ttl", "30s")

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "30s")

	v.SetDefault("rescan.page_rate", 10.0)

	v.SetDefault("workers", 4)
}

func defaultDataDir() string {
	if dir := os.Getenv(envPrefix + "_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".golumen")
	}
	return filepath.Join(home, ".golumen")
}

func defaultLibraryPath() string {
	return filepath.Join(defaultDataDir(), "library.db")
}

func defaultJobsDir() string {
	return filepath.Join(defaultDataDir(), "jobs")
}

// Load builds the configuration. An optional overrides map (nested by
// section, matching the config file shape) takes precedence over
// everything else. The loaded config becomes the value GetConfig returns.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file is optional: ./golumen.yaml, then the user config dir.
	v.SetConfigName("golumen")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "golumen"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	// Explicit Set outranks env vars in viper, which is exactly the
	// precedence runtime overrides need.
	for _, override := range overrides {
		for key, value := range flattenOverrides("", override) {
			v.Set(key, value)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil before Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func flattenOverrides(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flattenOverrides(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}
