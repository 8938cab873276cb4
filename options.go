package bridge

import "github.com/ashwamedh-street/EncodeForge-sub003/internal/config"

// Options configures the bridge. The zero value plus a WorkerCommand (or a
// Spawn override) is usable; New fills the rest with defaults.
type Options = config.Options

// Default tuning values applied by New for unset Options fields.
const (
	DefaultPoolSize      = config.DefaultPoolSize
	DefaultTimeout       = config.DefaultTimeout
	DefaultDrainGrace    = config.DefaultDrainGrace
	DefaultCancelGrace   = config.DefaultCancelGrace
	DefaultShutdownGrace = config.DefaultShutdownGrace
)

// LoadOptions reads bridge options from a TOML file.
func LoadOptions(path string) (*Options, error) {
	return config.Load(path)
}

// ParseOptions decodes bridge options from TOML data.
func ParseOptions(data []byte) (*Options, error) {
	return config.Parse(data)
}
