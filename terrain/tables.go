package terrain

import "github.com/signalsfoundry/terrainview/scene"

// ScenarioKeys names the scenario keys used for a simulation in the default
// and the alternate map style. Either may be empty.
type ScenarioKeys struct {
	Default   string `yaml:"default" json:"default"`
	Alternate string `yaml:"alternate" json:"alternate"`
}

// KeyTable maps a simulation name to its scenario keys.
type KeyTable map[string]ScenarioKeys

// Lookup returns the scenario key for a simulation and style. ok is false
// when the combination has no terrain.
func (t KeyTable) Lookup(simulation string, alternate bool) (key string, ok bool) {
	keys, found := t[simulation]
	if !found {
		return "", false
	}
	key = keys.Default
	if alternate {
		key = keys.Alternate
	}
	return key, key != ""
}

// URLTable maps a scenario key to its terrain service URL.
type URLTable map[string]string

// StyleTable maps a scenario key to the scene style applied once its terrain
// is active.
type StyleTable map[string]scene.Style
