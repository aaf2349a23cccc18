package targets

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
)

func near(a, b r3.Vector) bool {
	return a.Sub(b).Norm() < 1e-9
}

func TestRead_FormatsAndScaling(t *testing.T) {
	in := `# layout
1 0 2
0.5, 0, -1   # trailing comment

-1;0;0.25
`
	got, err := Read(strings.NewReader(in), 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []r3.Vector{{X: 2, Z: 4}, {X: 1, Z: -2}, {X: -2, Z: 0.5}}
	if len(got) != len(want) {
		t.Fatalf("got %d positions, want %d", len(got), len(want))
	}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Errorf("position %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"two fields", "1 2\n"},
		{"four fields", "1 2 3 4\n"},
		{"not a number", "1 x 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in), 1)
			if err == nil || !strings.Contains(err.Error(), "line 1") {
				t.Errorf("err = %v, want line 1 error", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.txt")
	if err := os.WriteFile(path, []byte("1 0 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path, DefaultMultiplier)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !near(got[0], r3.Vector{X: 1.1, Z: 1.1}) {
		t.Errorf("Load = %v", got)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), 1); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSortByDistanceDesc(t *testing.T) {
	base := r3.Vector{X: 1}
	in := []r3.Vector{{X: 1.5}, {X: 4}, {X: 1, Z: 2}, {X: -1}}
	got := SortByDistanceDesc(in, base)

	for i := 1; i < len(got); i++ {
		if got[i-1].Distance(base) < got[i].Distance(base) {
			t.Fatalf("not descending at %d: %v", i, got)
		}
	}
	if !near(got[0], r3.Vector{X: 4}) || !near(got[3], r3.Vector{X: 1.5}) {
		t.Errorf("order = %v", got)
	}
	if !near(in[0], r3.Vector{X: 1.5}) {
		t.Error("input slice was modified")
	}
}

func TestCloseRoutes(t *testing.T) {
	in := []r3.Vector{{}, {X: 0.1}, {X: 0.5}, {X: 0.55}}
	got := CloseRoutes(in, DefaultMinSpacing)
	if len(got) != 2 || got[0].Index != 0 || got[1].Index != 2 {
		t.Fatalf("CloseRoutes = %+v", got)
	}
	if math.Abs(got[1].Distance-0.05) > 1e-9 {
		t.Errorf("distance = %v", got[1].Distance)
	}
}

func TestOffset(t *testing.T) {
	got := Offset([]r3.Vector{{X: 1}}, r3.Vector{Y: 0.1, Z: 2})
	if !near(got[0], r3.Vector{X: 1, Y: 0.1, Z: 2}) {
		t.Errorf("Offset = %v", got)
	}
}
