// Package engine scores positions with external UCI engines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTimeout           = errors.New("engine timed out")
	ErrEngineUnavailable = errors.New("engine unavailable")
)

// Eval is an engine verdict relative to the side to move.
type Eval struct {
	CP     int
	Mate   int // moves to mate; negative when the side to move is mated
	IsMate bool
	Depth  int
	PV     []string
}

func (e Eval) String() string {
	if e.IsMate {
		return fmt.Sprintf("mate %d", e.Mate)
	}
	return fmt.Sprintf("cp %d", e.CP)
}

// Negate returns the same verdict from the other side's point of view.
func (e Eval) Negate() Eval {
	e.CP = -e.CP
	e.Mate = -e.Mate
	return e
}

// Scorer evaluates a position given as FEN within a time budget.
type Scorer interface {
	Score(ctx context.Context, fen string, budget time.Duration) (Eval, error)
}

// parseInfoLine extracts depth, score and principal variation from a UCI
// "info" line. Lines without both depth and score are ignored, as are bound
// scores from an interrupted iteration.
func parseInfoLine(line string) (Eval, bool) {
	if !strings.HasPrefix(line, "info ") {
		return Eval{}, false
	}
	parts := strings.Fields(line)
	var ev Eval
	scored := false
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					ev.Depth = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err != nil {
					return Eval{}, false
				}
				switch parts[i+1] {
				case "cp":
					ev.CP = v
					scored = true
				case "mate":
					ev.Mate = v
					ev.IsMate = true
					scored = true
				}
				i += 2
			}
		case "lowerbound", "upperbound":
			return Eval{}, false
		case "pv":
			if i+1 < len(parts) {
				ev.PV = append([]string(nil), parts[i+1:]...)
				i = len(parts)
			}
		}
	}
	if ev.Depth == 0 || !scored {
		return Eval{}, false
	}
	return ev, true
}
