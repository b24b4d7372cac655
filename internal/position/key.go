// Package position turns chess positions into the canonical keys used to
// memoize engine evaluations across transpositions.
package position

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

// Key returns the canonical key of pos: the first four FEN fields (board,
// side to move, castling rights, en passant square). Move counters are dropped
// so transpositions share one key, and the en passant square is kept only
// when an en passant capture is legal.
func Key(pos *chess.Position) string {
	parts := strings.Fields(pos.String())
	if len(parts) < 4 {
		return pos.String()
	}
	if parts[3] != "-" && !canCaptureEnPassant(pos) {
		parts[3] = "-"
	}
	return strings.Join(parts[:4], " ")
}

func canCaptureEnPassant(pos *chess.Position) bool {
	for _, m := range pos.ValidMoves() {
		if m.HasTag(chess.EnPassant) {
			return true
		}
	}
	return false
}

// Normalize validates a FEN and returns its canonical key plus a full FEN
// with zeroed move counters, suitable for "position fen".
func Normalize(fen string) (string, string, error) {
	parts := strings.Fields(strings.TrimSpace(fen))
	if len(parts) < 4 {
		return "", "", fmt.Errorf("invalid FEN %q", fen)
	}
	opt, err := chess.FEN(strings.Join(parts[:4], " ") + " 0 1")
	if err != nil {
		return "", "", fmt.Errorf("invalid FEN %q: %w", fen, err)
	}
	key := Key(chess.NewGame(opt).Position())
	return key, key + " 0 1", nil
}

// Parse decodes a key (or any FEN) into a position.
func Parse(key string) (*chess.Position, error) {
	_, full, err := Normalize(key)
	if err != nil {
		return nil, err
	}
	opt, err := chess.FEN(full)
	if err != nil {
		return nil, err
	}
	return chess.NewGame(opt).Position(), nil
}

// SideToMove reads the side to move straight from the key without building
// a position.
func SideToMove(key string) chess.Color {
	parts := strings.Fields(key)
	if len(parts) > 1 && parts[1] == "b" {
		return chess.Black
	}
	return chess.White
}
