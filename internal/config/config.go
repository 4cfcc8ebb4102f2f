package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	EnvJenkinsURL   = "JENKINS_URL"
	EnvJenkinsUser  = "JENKINS_USER"
	EnvJenkinsToken = "JENKINS_TOKEN"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	defaultStateFile       = "state.json"
	defaultLogFile         = "downloader.log"
	defaultSweepInterval   = 5 * time.Second
	defaultWorkers         = 8
	defaultMetadataTimeout = 10 * time.Second
	defaultDownloadTimeout = 10 * time.Minute
)

// Duration wraps time.Duration so intervals can be written as "5s" in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(v)

	return nil
}

// PlatformConfig describes one top-level Jenkins job acting as a folder of
// sub-jobs. Keyword selects artifacts by case-insensitive substring match on
// their relative path; Folder is the local directory name under
// destination_root.
type PlatformConfig struct {
	Name    string `yaml:"name"`
	Folder  string `yaml:"folder"`
	Keyword string `yaml:"keyword"`
}

// JenkinsConfig holds the connection settings for the Jenkins server.
// Credentials come from the environment only, never from the config file.
type JenkinsConfig struct {
	URL   string `yaml:"-"`
	User  string `yaml:"-"`
	Token string `yaml:"-"`

	MetadataTimeout Duration `yaml:"metadata_timeout"`
	DownloadTimeout Duration `yaml:"download_timeout"`
}

type SyncConfig struct {
	DestinationRoot string           `yaml:"destination_root"`
	StateFile       string           `yaml:"state_file"`
	SweepInterval   Duration         `yaml:"sweep_interval"`
	Workers         int              `yaml:"workers"`
	Platforms       []PlatformConfig `yaml:"platforms"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	Jenkins JenkinsConfig `yaml:"jenkins"`
	Sync    SyncConfig    `yaml:"sync"`
	Log     LogConfig     `yaml:"log"`
}

func (c *Config) SetDefaults() {
	c.Sync.StateFile = defaultStateFile
	c.Sync.SweepInterval = Duration(defaultSweepInterval)
	c.Sync.Workers = defaultWorkers
	c.Jenkins.MetadataTimeout = Duration(defaultMetadataTimeout)
	c.Jenkins.DownloadTimeout = Duration(defaultDownloadTimeout)
	c.Log.Level = LogLevelInfo
	c.Log.File = defaultLogFile
}

// Load reads the yaml config file, applies defaults and pulls the Jenkins
// credentials from the environment. Call Validate before the first sweep.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg := &Config{}
	cfg.SetDefaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Jenkins.URL = os.Getenv(EnvJenkinsURL)
	cfg.Jenkins.User = os.Getenv(EnvJenkinsUser)
	cfg.Jenkins.Token = os.Getenv(EnvJenkinsToken)

	return cfg, nil
}

func (c *Config) Validate() error {
	for _, cred := range []struct {
		env string
		val string
	}{
		{EnvJenkinsURL, c.Jenkins.URL},
		{EnvJenkinsUser, c.Jenkins.User},
		{EnvJenkinsToken, c.Jenkins.Token},
	} {
		if cred.val == "" {
			return fmt.Errorf("%s must be set in the environment", cred.env)
		}
	}

	if c.Sync.DestinationRoot == "" {
		return fmt.Errorf("sync.destination_root must be set")
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be positive")
	}

	if c.Sync.SweepInterval <= 0 {
		return fmt.Errorf("sync.sweep_interval must be positive")
	}

	if len(c.Sync.Platforms) == 0 {
		return fmt.Errorf("at least one platform must be configured")
	}

	for i, p := range c.Sync.Platforms {
		if p.Name == "" || p.Folder == "" || p.Keyword == "" {
			return fmt.Errorf("platform %d: name, folder and keyword must all be set", i)
		}
	}

	return nil
}
