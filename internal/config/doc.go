// Package config holds the bridge's configuration surface.
//
// Configuration is an explicit Options value handed to the facade at
// construction time; there is no ambient global settings lookup. Options can
// be populated programmatically or loaded from a TOML file.
package config
