package scene

import (
	"math"
	"testing"
)

func TestFovXFromAspect(t *testing.T) {
	cam := CameraState{FovY: math.Pi / 3, AspectRatio: 1}
	if math.Abs(cam.FovX()-cam.FovY) > 1e-12 {
		t.Fatalf("square viewport should have equal fovs: %v vs %v", cam.FovX(), cam.FovY)
	}
	cam.AspectRatio = 2
	if cam.FovX() <= cam.FovY {
		t.Fatalf("wide viewport should have wider horizontal fov")
	}
}

func TestRefReady(t *testing.T) {
	ref := NewRef(nil)
	if _, ok := ref.Ready(); ok {
		t.Fatalf("empty ref should not be ready")
	}
	if Alive(nil) {
		t.Fatalf("nil scene is not alive")
	}
}

func TestParseClassification(t *testing.T) {
	cases := map[string]ClassificationType{
		"terrain": ClassifyTerrain,
		"tiles3d": ClassifyTiles3D,
		"both":    ClassifyBoth,
		"":        ClassifyBoth,
	}
	for in, want := range cases {
		if got := ParseClassification(in); got != want {
			t.Fatalf("ParseClassification(%q) = %v, want %v", in, got, want)
		}
	}
}
