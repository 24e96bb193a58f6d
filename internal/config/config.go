// Package config resolves runtime settings from environment variables and an
// optional YAML file, env taking precedence over file taking precedence over
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/relaylens/captureproxy/internal/logging"
)

// Config holds every tunable the core needs to run.
type Config struct {
	ProxyPort    int    `yaml:"proxyPort"`
	HTTPPort     int    `yaml:"httpPort"`
	BodyLimit    int    `yaml:"bodyLimit"`
	MitmEnabled  bool   `yaml:"mitmEnabled"`
	CADir        string `yaml:"caDir"`
	SessionRoot  string `yaml:"sessionRoot"`
	RingCapacity int    `yaml:"ringCapacity"`
	MongoURI     string `yaml:"mongoURI"`
}

// Default returns the built-in defaults, resolved relative to the current
// working directory.
func Default() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		ProxyPort:    8888,
		HTTPPort:     8787,
		BodyLimit:    65536,
		MitmEnabled:  false,
		CADir:        filepath.Join(cwd, "certs"),
		SessionRoot:  filepath.Join(cwd, "data", "sessions"),
		RingCapacity: 2000,
		MongoURI:     "",
	}
}

// Load resolves a Config using, in increasing precedence: built-in defaults,
// the optional YAML file named by CAPTURE_CONFIG, then environment
// variables. A missing or malformed YAML file is not fatal.
func Load(log logging.Logger) Config {
	log = logging.OrDefault(log)
	cfg := Default()

	if path := os.Getenv("CAPTURE_CONFIG"); path != "" {
		if err := applyYAMLFile(&cfg, path); err != nil {
			log.Warn("config: could not load %s: %v", path, err)
		}
	}

	applyEnv(&cfg, log)
	return cfg
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, log logging.Logger) {
	if v, ok := intEnv("PROXY_PORT", log); ok {
		cfg.ProxyPort = v
	}
	if v, ok := intEnv("MITM_PORT", log); ok {
		cfg.ProxyPort = v
	}
	if v, ok := intEnv("PORT", log); ok {
		cfg.HTTPPort = v
	}
	if v, ok := intEnv("BODY_LIMIT", log); ok {
		cfg.BodyLimit = v
	}
	if v, ok := intEnv("RING_CAPACITY", log); ok {
		cfg.RingCapacity = v
	}
	if v, ok := boolEnv("MITM_ENABLED", log); ok {
		cfg.MitmEnabled = v
	}
	if v := os.Getenv("CA_DIR"); v != "" {
		cfg.CADir = v
	}
	if v := os.Getenv("SESSION_ROOT"); v != "" {
		cfg.SessionRoot = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
}

func intEnv(name string, log logging.Logger) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("config: ignoring invalid %s=%q: %v", name, v, err)
		return 0, false
	}
	return n, true
}

func boolEnv(name string, log logging.Logger) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn("config: ignoring invalid %s=%q: %v", name, v, err)
		return false, false
	}
	return b, true
}
