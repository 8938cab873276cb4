package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the on-disk TOML layout.
//
//	[worker]
//	command = "encodeforge-worker"
//	args = ["--serve"]
//
//	[pool]
//	size = 2
//	probe_on_spawn = true
//
//	[timeouts]
//	default = "30s"
//	drain_grace = "500ms"
//	cancel_grace = "2s"
//	shutdown_grace = "2s"
//
//	[settings]
//	subtitle_language = "en"
type fileConfig struct {
	Worker struct {
		Command string            `toml:"command"`
		Args    []string          `toml:"args"`
		Dir     string            `toml:"dir"`
		Env     map[string]string `toml:"env"`
	} `toml:"worker"`

	Pool struct {
		Size         int  `toml:"size"`
		ProbeOnSpawn bool `toml:"probe_on_spawn"`
	} `toml:"pool"`

	Timeouts struct {
		Default       string `toml:"default"`
		DrainGrace    string `toml:"drain_grace"`
		CancelGrace   string `toml:"cancel_grace"`
		ShutdownGrace string `toml:"shutdown_grace"`
	} `toml:"timeouts"`

	Settings map[string]any `toml:"settings"`
}

// Load parses a TOML config file into Options, applying defaults and
// validating the result.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes TOML config bytes into Options.
func Parse(data []byte) (*Options, error) {
	var raw fileConfig

	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	opts := &Options{
		WorkerCommand: strings.TrimSpace(raw.Worker.Command),
		WorkerArgs:    raw.Worker.Args,
		Dir:           raw.Worker.Dir,
		Env:           raw.Worker.Env,
		PoolSize:      raw.Pool.Size,
		ProbeOnSpawn:  raw.Pool.ProbeOnSpawn,
		Settings:      raw.Settings,
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"timeouts.default", raw.Timeouts.Default, &opts.DefaultTimeout},
		{"timeouts.drain_grace", raw.Timeouts.DrainGrace, &opts.DrainGrace},
		{"timeouts.cancel_grace", raw.Timeouts.CancelGrace, &opts.CancelGrace},
		{"timeouts.shutdown_grace", raw.Timeouts.ShutdownGrace, &opts.ShutdownGrace},
	}

	for _, d := range durations {
		if strings.TrimSpace(d.value) == "" {
			continue
		}

		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.name, err)
		}

		*d.dst = parsed
	}

	opts.ApplyDefaults()

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}
