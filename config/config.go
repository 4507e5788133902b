// Package config loads the microservice.yaml that wires a consumer or a provider.
package config

import (
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
	"svccall/message"
	"svccall/rpc/compress"
	"time"
)

type Config struct {
	Service     ServiceConfig              `yaml:"service"`
	References  map[string]ReferenceConfig `yaml:"references"`
	Instances   map[string][]string        `yaml:"instances"`
	Registry    RegistryConfig             `yaml:"registry"`
	Request     RequestConfig              `yaml:"request"`
	FlowControl FlowControlConfig          `yaml:"flowcontrol"`
	Highway     HighwayConfig              `yaml:"highway"`
}

// ServiceConfig describes this process when it runs as a provider.
type ServiceConfig struct {
	Name   string             `yaml:"name"`
	Listen map[string]string  `yaml:"listen"`
	Limits map[string]float64 `yaml:"limits"`
}

// ReferenceConfig selects the transport used to call one service.
type ReferenceConfig struct {
	Transport string `yaml:"transport"`
}

type RegistryConfig struct {
	// Type is "static" or "etcd".
	Type string     `yaml:"type"`
	Etcd EtcdConfig `yaml:"etcd"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	// TTL of the registration lease in seconds.
	TTL int `yaml:"ttl"`
}

type RequestConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Transport string        `yaml:"transport"`
	Retry     RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	Backoff    time.Duration `yaml:"backoff"`
}

type FlowControlConfig struct {
	Enabled bool `yaml:"enabled"`
	// Algorithm of the local limiters: tokenbucket, fixedwindow or slidewindow.
	Algorithm string `yaml:"algorithm"`
	// QPS applies to every operation key, Limits to single keys.
	QPS    float64            `yaml:"qps"`
	Burst  int                `yaml:"burst"`
	Limits map[string]float64 `yaml:"limits"`
	Redis  RedisConfig        `yaml:"redis"`
}

// RedisConfig switches flow control to a window shared through redis.
type RedisConfig struct {
	Addr   string        `yaml:"addr"`
	Prefix string        `yaml:"prefix"`
	Window time.Duration `yaml:"window"`
}

type HighwayConfig struct {
	Compressor string     `yaml:"compressor"`
	Pool       PoolConfig `yaml:"pool"`
}

type PoolConfig struct {
	MaxIdle     int           `yaml:"maxIdle"`
	MaxCap      int           `yaml:"maxCap"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

func Default() *Config {
	return &Config{
		References: map[string]ReferenceConfig{},
		Instances:  map[string][]string{},
		Registry: RegistryConfig{
			Type: "static",
			Etcd: EtcdConfig{DialTimeout: 3 * time.Second, TTL: 30},
		},
		Request: RequestConfig{
			Timeout:   30 * time.Second,
			Transport: string(message.TransportRest),
			Retry:     RetryConfig{MaxRetries: 3},
		},
		FlowControl: FlowControlConfig{
			Algorithm: "tokenbucket",
			Burst:     1,
			Redis:     RedisConfig{Prefix: "svccall:qps:", Window: time.Second},
		},
		Highway: HighwayConfig{
			Compressor: "none",
			Pool: PoolConfig{
				MaxIdle:     20,
				MaxCap:      30,
				IdleTimeout: time.Minute,
				DialTimeout: 3 * time.Second,
			},
		},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !message.TransportKind(c.Request.Transport).Valid() {
		return fmt.Errorf("config: unknown default transport %q", c.Request.Transport)
	}
	for svc, ref := range c.References {
		if ref.Transport != "" && !message.TransportKind(ref.Transport).Valid() {
			return fmt.Errorf("config: unknown transport %q for service %s", ref.Transport, svc)
		}
	}
	for kind := range c.Service.Listen {
		if !message.TransportKind(kind).Valid() {
			return fmt.Errorf("config: unknown listen transport %q", kind)
		}
	}
	if _, err := compress.ByName(c.Highway.Compressor); err != nil {
		return fmt.Errorf("config: highway compressor %q: %w", c.Highway.Compressor, err)
	}
	switch c.FlowControl.Algorithm {
	case "tokenbucket", "fixedwindow", "slidewindow":
	default:
		return fmt.Errorf("config: unknown flow control algorithm %q", c.FlowControl.Algorithm)
	}
	switch c.Registry.Type {
	case "static":
	case "etcd":
		if len(c.Registry.Etcd.Endpoints) == 0 {
			return fmt.Errorf("config: etcd registry needs endpoints")
		}
	default:
		return fmt.Errorf("config: unknown registry type %q", c.Registry.Type)
	}
	if c.Request.Timeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	if c.Request.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: maxRetries must not be negative")
	}
	return nil
}

// TransportFor returns the transport configured for serviceName, else the default one.
func (c *Config) TransportFor(serviceName string) message.TransportKind {
	if ref, ok := c.References[serviceName]; ok && ref.Transport != "" {
		return message.TransportKind(ref.Transport)
	}
	return message.TransportKind(c.Request.Transport)
}
