// Package dice parses and rolls dice formulas of the form <count>?d<sides>(+|-<modifier>)?.
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"tabletop/internal/apperr"
)

const (
	MaxCount    = 100
	MinSides    = 2
	MaxSides    = 1000
	MaxModifier = 1000
)

var formulaPattern = regexp.MustCompile(`^(\d*)d(\d+)(?:([+-])(\d+))?$`)

// Formula is a parsed dice expression.
type Formula struct {
	Count    int
	Sides    int
	Modifier int
}

func (f Formula) String() string {
	out := fmt.Sprintf("%dd%d", f.Count, f.Sides)
	switch {
	case f.Modifier > 0:
		out += fmt.Sprintf("+%d", f.Modifier)
	case f.Modifier < 0:
		out += fmt.Sprintf("%d", f.Modifier)
	}
	return out
}

// Parse reads a formula such as "2d6+3", "d20" or "4D8 - 1".
func Parse(raw string) (Formula, error) {
	normalized := strings.ToLower(strings.Join(strings.Fields(raw), ""))
	m := formulaPattern.FindStringSubmatch(normalized)
	if m == nil {
		return Formula{}, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("invalid dice formula %q", raw))
	}

	f := Formula{Count: 1}
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Formula{}, apperr.Wrap(apperr.CodeInvalidInput, "invalid dice count", err)
		}
		f.Count = n
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Formula{}, apperr.Wrap(apperr.CodeInvalidInput, "invalid dice sides", err)
	}
	f.Sides = sides
	if m[4] != "" {
		mod, err := strconv.Atoi(m[4])
		if err != nil {
			return Formula{}, apperr.Wrap(apperr.CodeInvalidInput, "invalid modifier", err)
		}
		if m[3] == "-" {
			mod = -mod
		}
		f.Modifier = mod
	}

	switch {
	case f.Count < 1 || f.Count > MaxCount:
		return Formula{}, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("dice count must be between 1 and %d", MaxCount))
	case f.Sides < MinSides || f.Sides > MaxSides:
		return Formula{}, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("dice sides must be between %d and %d", MinSides, MaxSides))
	case f.Modifier < -MaxModifier || f.Modifier > MaxModifier:
		return Formula{}, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("modifier must be within ±%d", MaxModifier))
	}
	return f, nil
}

// Details is the per-die breakdown stored with a roll.
type Details struct {
	Dice     []int `json:"dice"`
	Modifier *int  `json:"modifier,omitempty"`
}

// Result is a rolled formula.
type Result struct {
	Formula Formula `json:"-"`
	Total   int     `json:"total"`
	Details Details `json:"details"`
}

// Roller produces die faces. IntN returns a value in [0, n).
type Roller interface {
	IntN(n int) int
}

// Roll rolls every die of f using r and adds the modifier.
func Roll(f Formula, r Roller) Result {
	faces := make([]int, f.Count)
	total := 0
	for i := range faces {
		faces[i] = r.IntN(f.Sides) + 1
		total += faces[i]
	}
	total += f.Modifier
	res := Result{Formula: f, Total: total, Details: Details{Dice: faces}}
	if f.Modifier != 0 {
		mod := f.Modifier
		res.Details.Modifier = &mod
	}
	return res
}

// RollString parses and rolls in one step.
func RollString(raw string, r Roller) (Result, error) {
	f, err := Parse(raw)
	if err != nil {
		return Result{}, err
	}
	return Roll(f, r), nil
}

// Advantage rolls two d20s plus modifier and keeps the higher die.
func Advantage(modifier int, r Roller) Result {
	return keep(modifier, r, func(a, b int) bool { return a >= b })
}

// Disadvantage rolls two d20s plus modifier and keeps the lower die.
func Disadvantage(modifier int, r Roller) Result {
	return keep(modifier, r, func(a, b int) bool { return a <= b })
}

func keep(modifier int, r Roller, first func(a, b int) bool) Result {
	res := Roll(Formula{Count: 2, Sides: 20, Modifier: modifier}, r)
	a, b := res.Details.Dice[0], res.Details.Dice[1]
	kept := b
	if first(a, b) {
		kept = a
	}
	res.Formula.Count = 1
	res.Total = kept + modifier
	return res
}

// NewRoller returns a PCG generator seeded from crypto/rand.
func NewRoller() (*rand.Rand, error) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]))), nil
}

// Locked serializes access to a Roller shared between goroutines.
type Locked struct {
	mu sync.Mutex
	r  Roller
}

// NewLocked wraps r for concurrent use.
func NewLocked(r Roller) *Locked {
	return &Locked{r: r}
}

func (l *Locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Fixed replays the given die faces in order, cycling when exhausted.
// Faces are 1-based like real dice.
type Fixed struct {
	Faces []int
	next  int
}

// IntN returns the next scripted face minus one, folded into [0, n).
func (f *Fixed) IntN(n int) int {
	if len(f.Faces) == 0 {
		return 0
	}
	face := f.Faces[f.next%len(f.Faces)]
	f.next++
	v := (face - 1) % n
	if v < 0 {
		v += n
	}
	return v
}
