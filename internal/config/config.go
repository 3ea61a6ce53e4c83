package config

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env  string `yaml:"env" env-default:"local" env:"ENV"`
	Name string `yaml:"name" env:"NAME"`
	// пусто - лог в stderr
	LogFile      string        `yaml:"log_file" env:"LOG_FILE"`
	Port         int           `yaml:"port" env-default:"12345" env:"PORT"`
	DownloadsDir string        `yaml:"downloads_dir" env:"DOWNLOADS_DIR"`
	OutboxDir    string        `yaml:"outbox_dir" env:"OUTBOX_DIR"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"0s" env:"DIAL_TIMEOUT"`
	MaxFrameSize uint32        `yaml:"max_frame_size" env-default:"536870912" env:"MAX_FRAME_SIZE"`
	Discovery    Discovery     `yaml:"discovery"`
	Presence     Presence      `yaml:"presence"`
	MDNS         MDNS          `yaml:"mdns"`
}

type Discovery struct {
	Port           int           `yaml:"port" env-default:"45454" env:"DISCOVERY_PORT"`
	BeaconInterval time.Duration `yaml:"beacon_interval" env-default:"2s" env:"DISCOVERY_BEACON_INTERVAL"`
	QueueSize      int           `yaml:"queue_size" env-default:"512" env:"DISCOVERY_QUEUE_SIZE"`
	// дополнительные сегменты вида "192.168.1."
	Segments []string `yaml:"segments" env:"DISCOVERY_SEGMENTS" env-separator:","`
}

type Presence struct {
	Group    string        `yaml:"group" env-default:"239.255.43.21" env:"PRESENCE_GROUP"`
	Interval time.Duration `yaml:"interval" env-default:"5s" env:"PRESENCE_INTERVAL"`
}

type MDNS struct {
	Enabled        bool          `yaml:"enabled" env:"MDNS_ENABLED"`
	Service        string        `yaml:"service" env-default:"_lanlink._tcp" env:"MDNS_SERVICE"`
	BrowseInterval time.Duration `yaml:"browse_interval" env-default:"30s" env:"MDNS_BROWSE_INTERVAL"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadConfig(configPath)
}

func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// LoadConfig reads the yaml file, applies env overrides and fills derived defaults.
func LoadConfig(configPath string) (*Config, error) {
	// check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, &os.PathError{Op: "config", Path: configPath, Err: os.ErrNotExist}
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		if host, err := os.Hostname(); err == nil {
			c.Name = host
		}
	}
	if c.DownloadsDir == "" {
		c.DownloadsDir = DefaultDownloadsDir()
	}
}

// DefaultDownloadsDir возвращает ~/Downloads, либо ./downloads если домашний каталог неизвестен
func DefaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "downloads"
	}
	return filepath.Join(home, "Downloads")
}

// Priority: flag > env > default.
// default value is empty string.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}
