package memscene

import "github.com/signalsfoundry/terrainview/scene"

// Snapshot is a JSON-friendly view of the whole scene.
type Snapshot struct {
	Destroyed  bool                    `json:"destroyed"`
	Camera     scene.CameraState       `json:"camera"`
	Entities   []scene.Entity          `json:"entities"`
	Primitives []scene.GroundPrimitive `json:"primitives"`
	Flights    []Flight                `json:"flights"`
	Terrain    string                  `json:"terrain,omitempty"`
	Style      *scene.Style            `json:"style,omitempty"`
	Renders    int                     `json:"renders"`
}

// Snapshot captures the current scene state.
func (s *Scene) Snapshot() Snapshot {
	snap := Snapshot{
		Destroyed:  s.IsDestroyed(),
		Camera:     s.Camera(),
		Entities:   s.Entities(),
		Primitives: s.Primitives(),
		Flights:    s.Flights(),
		Renders:    s.Renders(),
	}
	if p := s.TerrainProvider(); p != nil {
		snap.Terrain = p.Source()
	}
	if st, ok := s.Style(); ok {
		snap.Style = &st
	}
	return snap
}
