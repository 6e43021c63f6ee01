package config

import (
	"sort"

	"github.com/san-kum/tidesim/internal/hydro"
)

// Presets are named starting points layered over DefaultConfig.
var Presets = map[string]func(*Config){
	// validation mirrors the continuous-sediment validation case: 18 days
	// at five-minute steps, exports every half hour.
	"validation": func(c *Config) {
		c.Time = TimeConfig{Dt: 300, Export: 1800, End: 1555200}
		c.Physics.Sediment.Enabled = true
		c.Physics.Coriolis = true
	},
	"hydro-only": func(c *Config) {
		c.Time = TimeConfig{Dt: 300, Export: 3600, End: 172800}
		c.Physics.Sediment.Enabled = false
		c.Detectors.Fields = []string{hydro.FieldElevation, hydro.FieldVelocity}
	},
	"smoke": func(c *Config) {
		c.Mesh = MeshConfig{NX: 4, NY: 2, LX: 4000, LY: 2000}
		c.Time = TimeConfig{Dt: 300, Export: 1800, End: 3600}
		c.Forcing.Ramp = 600
	},
}

// GetPreset returns DefaultConfig with the named preset applied, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
