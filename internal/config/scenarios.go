package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/terrainview/terrain"
)

// ScenarioTables maps simulations to terrain scenario keys, keys to terrain
// URLs and keys to scene styles.
//
//	keys:
//	  swiss: {default: ch-2056, alternate: ch-2056-dark}
//	urls:
//	  ch-2056: https://terrain.example.org/ch
//	styles:
//	  ch-2056-dark: {background: {r: 0, g: 0, b: 0, a: 1}, globeTranslucency: 0.2}
type ScenarioTables struct {
	Keys   terrain.KeyTable   `yaml:"keys" json:"keys"`
	URLs   terrain.URLTable   `yaml:"urls" json:"urls"`
	Styles terrain.StyleTable `yaml:"styles" json:"styles"`
}

// ParseScenarioTables decodes YAML scenario tables. Unknown fields are
// rejected.
func ParseScenarioTables(data []byte) (*ScenarioTables, error) {
	var tables ScenarioTables
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tables); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode scenario tables: %w", err)
	}
	if tables.Keys == nil {
		tables.Keys = terrain.KeyTable{}
	}
	if tables.URLs == nil {
		tables.URLs = terrain.URLTable{}
	}
	if tables.Styles == nil {
		tables.Styles = terrain.StyleTable{}
	}
	return &tables, nil
}

// LoadScenarioTables reads and decodes the tables at path.
func LoadScenarioTables(path string) (*ScenarioTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario tables: %w", err)
	}
	tables, err := ParseScenarioTables(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tables, nil
}

// MissingURLs lists the scenario keys referenced by Keys that have no URL.
func (t *ScenarioTables) MissingURLs() []string {
	seen := map[string]bool{}
	var missing []string
	for _, keys := range t.Keys {
		for _, k := range []string{keys.Default, keys.Alternate} {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			if t.URLs[k] == "" {
				missing = append(missing, k)
			}
		}
	}
	sort.Strings(missing)
	return missing
}
