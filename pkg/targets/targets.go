// Package targets loads the list of cup placement positions.
//
// The file holds one position per line as three numbers separated by
// spaces, commas or semicolons. Blank lines and text after '#' are ignored.
package targets

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// DefaultMultiplier spreads the stored layout to the physical spacing.
const DefaultMultiplier = 1.1

// DefaultMinSpacing is the closest two consecutive placements may be
// before the route is reported as tight.
const DefaultMinSpacing = 0.105

// Read parses positions from r and scales each by multiplier.
func Read(r io.Reader, multiplier float64) ([]r3.Vector, error) {
	var out []r3.Vector
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(c rune) bool {
			return c == ',' || c == ';' || c == ' ' || c == '\t'
		})
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want 3 coordinates, got %d", lineNo, len(fields))
		}
		var xyz [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			xyz[i] = v
		}
		out = append(out, r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}.Mul(multiplier))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return out, nil
}

// Load reads positions from a file.
func Load(path string, multiplier float64) ([]r3.Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()
	return Read(f, multiplier)
}

// Offset translates every position by origin, placing the layout in the
// tracking frame.
func Offset(positions []r3.Vector, origin r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(positions))
	for i, p := range positions {
		out[i] = p.Add(origin)
	}
	return out
}

// SortByDistanceDesc orders positions farthest from base first, so cups
// already placed never sit between the base and the next target.
func SortByDistanceDesc(positions []r3.Vector, base r3.Vector) []r3.Vector {
	out := append([]r3.Vector(nil), positions...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance(base) > out[j].Distance(base)
	})
	return out
}

// Pair is two consecutive placements closer than the allowed spacing.
type Pair struct {
	Index    int // index of the first position
	Distance float64
}

// CloseRoutes returns consecutive pairs closer than minDist.
func CloseRoutes(positions []r3.Vector, minDist float64) []Pair {
	var out []Pair
	for i := 0; i+1 < len(positions); i++ {
		if d := positions[i].Distance(positions[i+1]); d < minDist {
			out = append(out, Pair{Index: i, Distance: d})
		}
	}
	return out
}
