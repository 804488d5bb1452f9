package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"sse-rpc/client"
)

const (
	configName = "ssectl"
	envPrefix  = "SSECTL"
)

// NewViper prepares a viper instance for configFile. With no explicit file it
// looks for ssectl.yaml or ssectl.yml in the working directory and in
// ~/.ssectl. Environment variables such as SSECTL_SERVER_URL override the
// file.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindNestedEnvKeys(v)
	setViperDefaults(v)
	return v
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{".", filepath.Join(home, ".ssectl")})
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys makes nested keys visible to Unmarshal when they are only
// set in the environment.
func bindNestedEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.url",
		"server.service",
		"registry.endpoints",
		"registry.balancer",
		"timeouts.connect",
		"timeouts.call",
		"timeouts.idle",
		"timeouts.total",
		"reconnect.max_attempts",
		"reconnect.base_delay",
		"reconnect.max_delay",
		"rate_limit.rps",
		"rate_limit.burst",
		"retry.max_retries",
		"retry.base_delay",
		"client.name",
		"client.version",
		"log.development",
	} {
		_ = v.BindEnv(key)
	}
}

func setViperDefaults(v *viper.Viper) {
	v.SetDefault("registry.balancer", "round_robin")
	v.SetDefault("timeouts.connect", client.DefaultConnectTimeout)
	v.SetDefault("timeouts.call", client.DefaultCallTimeout)
	v.SetDefault("reconnect.max_attempts", client.DefaultReconnectAttempts)
	v.SetDefault("reconnect.base_delay", client.DefaultReconnectBaseDelay)
	v.SetDefault("reconnect.max_delay", client.DefaultReconnectMaxDelay)
	v.SetDefault("client.name", "ssectl")
	v.SetDefault("client.version", "dev")
}

// Load reads the config file if there is one, applies defaults and validates.
// A missing file is not an error; flags and environment may be enough.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
