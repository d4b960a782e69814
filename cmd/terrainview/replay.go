package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/terrainview/internal/config"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/marker"
	"github.com/signalsfoundry/terrainview/model"
	"github.com/signalsfoundry/terrainview/orchestrator"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/scene/memscene"
	"github.com/signalsfoundry/terrainview/store"
	"github.com/signalsfoundry/terrainview/terrain"
	"github.com/signalsfoundry/terrainview/timectrl"
)

// replayScript drives the pipeline step by step on a manual clock.
//
//	flatHeight: 540
//	markerImage: pin.png
//	tables:
//	  keys: {swiss: {default: ch}}
//	  urls: {ch: https://terrain.example.org/ch}
//	steps:
//	  - scenario: {simulation: swiss}
//	  - select: {position: {x: 700000, y: 6400000}, sourceCrs: "3857", sortKey: 1}
//	    fresh: true
//	  - advance: 500ms
//	  - completeFlight: true
//	  - clear: true
type replayScript struct {
	Start       time.Time             `yaml:"start"`
	FlatHeight  float64               `yaml:"flatHeight"`
	MarkerImage string                `yaml:"markerImage"`
	Tables      config.ScenarioTables `yaml:"tables"`
	Steps       []replayStep          `yaml:"steps"`
}

type replayStep struct {
	Select         yaml.Node     `yaml:"select"`
	Fresh          bool          `yaml:"fresh"`
	Clear          bool          `yaml:"clear"`
	Scenario       *scenarioStep `yaml:"scenario"`
	Advance        time.Duration `yaml:"advance"`
	CompleteFlight bool          `yaml:"completeFlight"`
	ReplaceScene   bool          `yaml:"replaceScene"`
}

type scenarioStep struct {
	Simulation string `yaml:"simulation"`
	Alternate  bool   `yaml:"alternate"`
}

// replayReport is printed once the script finished.
type replayReport struct {
	Scenario string            `json:"scenario"`
	State    string            `json:"state"`
	Events   []memscene.Event  `json:"events"`
	Scene    memscene.Snapshot `json:"scene"`
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <script.yaml|->",
		Short: "Replay a scripted selection session against a headless scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			report, err := replay(cmd.Context(), data, logging.NewFromEnv())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func replay(ctx context.Context, data []byte, log logging.Logger) (*replayReport, error) {
	var script replayScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("decode replay script: %w", err)
	}
	start := script.Start
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	clock := timectrl.NewManualClock(start)

	var events []memscene.Event
	record := func(ev memscene.Event) { events = append(events, ev) }
	newScene := func() *memscene.Scene {
		s := memscene.New()
		_ = s.SetTerrainProvider(terrain.Flat{Name: "flat", Height: script.FlatHeight})
		s.Subscribe(record)
		return s
	}
	current := newScene()
	scenes := scene.NewRef(current)

	var markers *marker.Manager
	if script.MarkerImage != "" {
		opts := marker.DefaultOptions()
		opts.Asset = &scene.MarkerAsset{Image: script.MarkerImage, Width: 32, Height: 48, Scale: 1}
		markers = marker.NewManager(opts, clock, log)
	}
	orch := orchestrator.New(scenes, orchestrator.Deps{Markers: markers, Clock: clock},
		orchestrator.DefaultOptions(), log, nil)
	st := store.New()
	unbind := orch.Bind(ctx, st)
	defer unbind()

	mgrOpts := terrain.DefaultManagerOptions()
	mgrOpts.Styles = script.Tables.Styles
	mgr := terrain.NewProviderManager(scenes, terrain.FlatFactory(script.FlatHeight), mgrOpts, clock, log, nil)
	defer mgr.Close()

	for i, step := range script.Steps {
		switch {
		case step.Select.Kind != 0:
			item, err := decodeStepItem(&step.Select)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
			if step.Fresh {
				item.SelectionTimestamp = model.Int64Ptr(clock.Now().UnixMilli())
			}
			st.Set(item)
		case step.Clear:
			st.Clear()
		case step.Scenario != nil:
			mgr.UseTerrainForScenario(ctx, step.Scenario.Simulation, step.Scenario.Alternate,
				script.Tables.Keys, script.Tables.URLs)
			mgr.Wait()
		case step.Advance > 0:
			clock.Advance(step.Advance)
			mgr.Wait()
		case step.CompleteFlight:
			current.CompleteFlight()
		case step.ReplaceScene:
			prev := current
			current = newScene()
			mgr.ReplaceScene(ctx, current)
			prev.Destroy()
			orch.OnSceneReady(ctx)
			mgr.Wait()
		default:
			return nil, fmt.Errorf("step %d: empty step", i+1)
		}
	}

	return &replayReport{
		Scenario: mgr.Scenario(),
		State:    mgr.State().String(),
		Events:   events,
		Scene:    current.Snapshot(),
	}, nil
}

// decodeStepItem converts an inline YAML selection into the JSON form the
// item is defined by.
func decodeStepItem(node *yaml.Node) (*model.SelectionItem, error) {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode selection: %w", err)
	}
	return model.DecodeSelectionItem(data)
}
