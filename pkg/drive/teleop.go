package drive

import (
	"fmt"
	"strings"
)

// Keys is the set of teleoperation keys currently held.
type Keys uint8

const (
	KeyForward Keys = 1 << iota // W
	KeyLeft                     // A
	KeyReverse                  // S
	KeyRight                    // D
	KeyFan                      // Q
	KeySlow                     // E
)

const motionKeys = KeyForward | KeyLeft | KeyReverse | KeyRight

var keyLetters = map[string]Keys{
	"w": KeyForward,
	"a": KeyLeft,
	"s": KeyReverse,
	"d": KeyRight,
	"q": KeyFan,
	"e": KeySlow,
}

// ParseKeys builds a key set from letters such as ["w", "a"].
func ParseKeys(letters []string) (Keys, error) {
	var k Keys
	for _, l := range letters {
		bit, ok := keyLetters[strings.ToLower(strings.TrimSpace(l))]
		if !ok {
			return 0, fmt.Errorf("unknown key %q", l)
		}
		k |= bit
	}
	return k, nil
}

// Has reports whether every key in other is held.
func (k Keys) Has(other Keys) bool {
	return k&other == other
}

// Letters returns the held keys as lowercase letters in WASDQE order.
func (k Keys) Letters() []string {
	out := []string{}
	for _, l := range []string{"w", "a", "s", "d", "q", "e"} {
		if k.Has(keyLetters[l]) {
			out = append(out, l)
		}
	}
	return out
}

// chords is the full teleoperation table. Any motion-key combination not
// listed stops the robot.
var chords = map[Keys]WheelCommand{
	KeyForward:            {Left: 1, Right: 1},
	KeyReverse:            {Left: -1, Right: -1},
	KeyLeft:               {Left: -1, Right: 1},
	KeyRight:              {Left: 1, Right: -1},
	KeyForward | KeyLeft:  {Left: 0.8, Right: 1},
	KeyForward | KeyRight: {Left: 1, Right: 0.8},
	KeyLeft | KeyReverse:  {Left: -0.8, Right: -1},
	KeyRight | KeyReverse: {Left: -1, Right: -0.8},
}

// Chord returns the unscaled wheel command for the held motion keys.
// The fan and slow keys do not take part.
func Chord(k Keys) WheelCommand {
	return chords[k&motionKeys]
}
