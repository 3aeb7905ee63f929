package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportMemory = "memory"
	TransportLibp2p = "libp2p"
)

// Config is the file format read by hectorctl.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
	Wait      WaitConfig      `yaml:"wait"`
	HTTP      HTTPConfig      `yaml:"http"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type TransportConfig struct {
	Kind            string   `yaml:"kind"` // memory, libp2p
	ListenAddrs     []string `yaml:"listen_addrs"`
	Bootstrap       []string `yaml:"bootstrap"`
	Rendezvous      string   `yaml:"rendezvous"`
	EnableMDNS      bool     `yaml:"enable_mdns"`
	IdentityKeyFile string   `yaml:"identity_key_file"`
	BufferSize      int      `yaml:"buffer_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// WaitConfig holds defaults for `hectorctl wait` and the HTTP wait endpoint.
type WaitConfig struct {
	// Timeout below zero waits forever.
	Timeout time.Duration `yaml:"timeout"`
	Latched bool          `yaml:"latched"`
	Depth   int           `yaml:"depth"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"` // empty for stdout
}

func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:        TransportLibp2p,
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
			Rendezvous:  "hector-utils",
			EnableMDNS:  true,
			BufferSize:  64,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Wait:    WaitConfig{Timeout: 5 * time.Second, Depth: 1},
		HTTP:    HTTPConfig{Addr: ":8090"},
	}
}

// Load reads path on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	cfg := Default()
	if err := DecodeStrict(f, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeStrict decodes YAML from a reader and rejects any unknown fields.
func DecodeStrict(r io.Reader, out any) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
