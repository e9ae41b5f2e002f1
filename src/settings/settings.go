package settings

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RootPasswordEnv names the environment variable read on first start to
// create the root user.
const RootPasswordEnv = "ROOT_PASSWORD"

type Arguments struct {
	// The root directory holding the users file and one directory per database
	DataDir string `yaml:"data_dir"`
	// Directory for timestamped server log files, empty logs to stdout only
	LogDir string `yaml:"log_dir"`

	ConfigFile string `yaml:"-"`

	// the host name or IP address to listen on
	Host string `yaml:"host"`

	// the port number to listen on
	Port int `yaml:"port"`

	Verbose bool `yaml:"verbose"`
	Debug   bool `yaml:"debug"`

	// Snapshot format of collection files: json or bson
	StorageFormat string `yaml:"storage_format"`

	// Failed auth attempts per host before requests are delayed
	AuthLimit  int           `yaml:"auth_limit"`
	AuthWindow time.Duration `yaml:"auth_window"`
	AuthDelay  time.Duration `yaml:"auth_delay"`

	PersistQueueSize int    `yaml:"persist_queue_size"`
	LogQueueSize     int    `yaml:"log_queue_size"`
	EventQueueSize   int    `yaml:"event_queue_size"`
	MaxFrameSize     uint32 `yaml:"max_frame_size"`

	// New connections admitted per second, 0 disables the throttle
	AcceptRate float64 `yaml:"accept_rate"`

	// Address of the prometheus endpoint, empty disables it
	MetricsAddr string `yaml:"metrics_addr"`

	// Only used when the users file does not exist yet
	RootPassword string `yaml:"-"`
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the process wide settings instance.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = Defaults()
	})
	return instance
}

// Defaults returns the built-in configuration.
func Defaults() *Arguments {
	return &Arguments{
		DataDir:          "./datafiles",
		Host:             "127.0.0.1",
		Port:             1776,
		Verbose:          true,
		StorageFormat:    "json",
		AuthLimit:        3,
		AuthWindow:       60 * time.Second,
		AuthDelay:        10 * time.Second,
		PersistQueueSize: 1024,
		LogQueueSize:     1024,
		EventQueueSize:   256,
		MaxFrameSize:     16 << 20,
	}
}

// RegisterFlags binds command line flags to the fields of args.
func RegisterFlags(fs *flag.FlagSet, args *Arguments) {
	fs.StringVar(&args.DataDir, "datadir", args.DataDir, "Directory to store data files")
	fs.StringVar(&args.LogDir, "logdir", args.LogDir, "Directory to store log files (default: stdout only)")
	fs.StringVar(&args.Host, "host", args.Host, "Host name or IP address to listen on")
	fs.IntVar(&args.Port, "port", args.Port, "Port for the TCP server")
	fs.BoolVar(&args.Verbose, "verbose", args.Verbose, "Enable verbose logging")
	fs.BoolVar(&args.Debug, "debug", args.Debug, "Enable debug mode")
	fs.StringVar(&args.ConfigFile, "config", args.ConfigFile, "Path to YAML config file")
	fs.StringVar(&args.StorageFormat, "storage", args.StorageFormat, "Collection snapshot format (json, bson)")
	fs.IntVar(&args.AuthLimit, "authlimit", args.AuthLimit, "Failed auth attempts before requests are delayed")
	fs.DurationVar(&args.AuthWindow, "authwindow", args.AuthWindow, "Window after which failed auth attempts are forgotten")
	fs.DurationVar(&args.AuthDelay, "authdelay", args.AuthDelay, "Delay applied to requests from throttled addresses")
	fs.Float64Var(&args.AcceptRate, "acceptrate", args.AcceptRate, "Max new connections per second (0 = unlimited)")
	fs.StringVar(&args.MetricsAddr, "metrics", args.MetricsAddr, "Address for the prometheus endpoint (empty = disabled)")
}

// Load parses argv into args. A config file named by -config is applied
// first and flags given on the command line override its values.
func Load(fs *flag.FlagSet, args *Arguments, argv []string) error {
	RegisterFlags(fs, args)
	if err := fs.Parse(argv); err != nil {
		return err
	}

	if args.ConfigFile != "" {
		if err := args.LoadFile(args.ConfigFile); err != nil {
			return err
		}
		// re-apply so explicit flags win over the file
		if err := fs.Parse(argv); err != nil {
			return err
		}
	}

	if pw := os.Getenv(RootPasswordEnv); pw != "" {
		args.RootPassword = pw
	}
	return nil
}

// LoadFile merges a YAML config file into args.
func (args *Arguments) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, args); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return nil
}

// Validate validates the arguments and returns an error if invalid
func (args *Arguments) Validate() error {
	if args.DataDir == "" {
		return errors.New("data directory must be set")
	}

	if args.Port < 0 || args.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 0 and 65535)", args.Port)
	}

	validFormats := map[string]bool{"json": true, "bson": true}
	if !validFormats[args.StorageFormat] {
		return fmt.Errorf("invalid storage format: %s (must be 'json' or 'bson')", args.StorageFormat)
	}

	if args.AuthLimit < 1 {
		return fmt.Errorf("auth limit must be positive, got %d", args.AuthLimit)
	}
	if args.AuthWindow <= 0 {
		return fmt.Errorf("auth window must be positive, got %s", args.AuthWindow)
	}
	if args.AuthDelay < 0 {
		return fmt.Errorf("auth delay must not be negative, got %s", args.AuthDelay)
	}
	if args.PersistQueueSize < 1 || args.LogQueueSize < 1 || args.EventQueueSize < 1 {
		return errors.New("queue sizes must be positive")
	}
	if args.MaxFrameSize == 0 {
		return errors.New("max frame size must be positive")
	}
	if args.AcceptRate < 0 {
		return fmt.Errorf("accept rate must not be negative, got %v", args.AcceptRate)
	}

	return nil
}

// Address returns the host:port listen address.
func (args *Arguments) Address() string {
	return fmt.Sprintf("%s:%d", args.Host, args.Port)
}
