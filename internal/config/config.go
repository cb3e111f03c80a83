// Package config loads tether.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/codec"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/module"
)

// FileName is the config file looked up when no path is given.
const FileName = "tether.toml"

// Config is the tether.toml configuration file.
type Config struct {
	Bridge     BridgeConfig      `toml:"bridge"`
	Invoker    InvokerConfig     `toml:"invoker"`
	Events     EventsConfig      `toml:"events"`
	Store      StoreConfig       `toml:"store"`
	Capability bridge.Capability `toml:"capability"`
	Metrics    MetricsConfig     `toml:"metrics"`
	Manifests  ManifestsConfig   `toml:"manifests"`
}

// BridgeConfig holds the dispatcher and registry policies.
type BridgeConfig struct {
	// "reject" (default) or "overwrite"
	DuplicatePolicy string `toml:"duplicate_policy"`
	// "ignore" (default) or "report"
	DoubleSettle string `toml:"double_settle"`
	// "json" (default) or "proto"
	Codec string `toml:"codec"`
}

// InvokerConfig sizes the runtime, main and native loops.
type InvokerConfig struct {
	LaneCapacity int `toml:"lane_capacity"`
}

// EventsConfig configures the event beat.
type EventsConfig struct {
	// BeatInterval drives a ticker beat. Zero flushes on the runtime loop
	// as soon as an event is queued.
	BeatInterval Duration `toml:"beat_interval"`
}

// StoreConfig locates the diagnostics database. An empty path disables it.
type StoreConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig names the Prometheus namespace.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// ManifestsConfig locates the CUE module manifests.
type ManifestsConfig struct {
	Dir string `toml:"dir"`
}

// Duration is a time.Duration written as a string ("16ms") in TOML.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Bridge: BridgeConfig{
			DuplicatePolicy: module.Reject.String(),
			DoubleSettle:    bridge.Ignore.String(),
			Codec:           codec.NameJSON,
		},
		Invoker: InvokerConfig{
			LaneCapacity: 16,
		},
		Capability: bridge.Capability{
			RuntimeVersion: ir.RuntimeVersion,
			ABI:            "v1",
		},
		Metrics: MetricsConfig{
			Namespace: "tether",
		},
		Manifests: ManifestsConfig{
			Dir: "modules",
		},
	}
}

// Load reads path. A missing file yields Default(); any other read or
// parse error is returned.
func Load(path string) (Config, error) {
	if path == "" {
		path = FileName
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over Default() and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Validate checks every enumerated value and range.
func (c Config) Validate() error {
	var errs []error
	if _, err := module.ParseDuplicatePolicy(c.Bridge.DuplicatePolicy); err != nil {
		errs = append(errs, fmt.Errorf("bridge.duplicate_policy: %w", err))
	}
	if _, err := bridge.ParseDoubleSettlePolicy(c.Bridge.DoubleSettle); err != nil {
		errs = append(errs, fmt.Errorf("bridge.double_settle: %w", err))
	}
	if _, err := codec.ByName(c.Bridge.Codec); err != nil {
		errs = append(errs, fmt.Errorf("bridge.codec: %w", err))
	}
	if c.Invoker.LaneCapacity < 0 {
		errs = append(errs, fmt.Errorf("invoker.lane_capacity: must be >= 0, got %d", c.Invoker.LaneCapacity))
	}
	if c.Events.BeatInterval < 0 {
		errs = append(errs, fmt.Errorf("events.beat_interval: must be >= 0, got %s", time.Duration(c.Events.BeatInterval)))
	}
	if c.Capability.RuntimeVersion == "" {
		errs = append(errs, errors.New("capability.runtime_version: required"))
	}
	return errors.Join(errs...)
}

// DuplicatePolicy returns the parsed bridge.duplicate_policy.
func (c Config) DuplicatePolicy() module.DuplicatePolicy {
	p, _ := module.ParseDuplicatePolicy(c.Bridge.DuplicatePolicy)
	return p
}

// DoubleSettlePolicy returns the parsed bridge.double_settle.
func (c Config) DoubleSettlePolicy() bridge.DoubleSettlePolicy {
	p, _ := bridge.ParseDoubleSettlePolicy(c.Bridge.DoubleSettle)
	return p
}

// Codec returns the configured wire codec, JSON when unset or invalid.
func (c Config) Codec() codec.Codec {
	cd, err := codec.ByName(c.Bridge.Codec)
	if err != nil {
		return codec.JSON{}
	}
	return cd
}
