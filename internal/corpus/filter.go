package corpus

import (
	"strconv"
	"strings"
)

// Filter decides which games of an archive enter the corpus. Zero values
// disable a bound.
type Filter struct {
	MinRating int `json:"min_rating"`
	MaxRating int `json:"max_rating"`
	// Time control bounds in seconds, estimated as base + 40*increment.
	MinTC int `json:"min_tc"`
	MaxTC int `json:"max_tc"`
}

// Accept reports whether a game with the given PGN tags passes the filter.
// Games with non-numeric ratings or a time control without an increment
// component are rejected whenever the corresponding bound is active.
func (f Filter) Accept(tags map[string]string) bool {
	if f.MinRating > 0 || f.MaxRating > 0 {
		for _, key := range []string{"WhiteElo", "BlackElo"} {
			elo, err := strconv.Atoi(tags[key])
			if err != nil {
				return false
			}
			if f.MinRating > 0 && elo < f.MinRating {
				return false
			}
			if f.MaxRating > 0 && elo > f.MaxRating {
				return false
			}
		}
	}
	if f.MinTC > 0 || f.MaxTC > 0 {
		secs, ok := estimateTimeControl(tags["TimeControl"])
		if !ok {
			return false
		}
		if f.MinTC > 0 && secs < f.MinTC {
			return false
		}
		if f.MaxTC > 0 && secs > f.MaxTC {
			return false
		}
	}
	return true
}

func estimateTimeControl(tc string) (int, bool) {
	base, incr, found := strings.Cut(tc, "+")
	if !found {
		return 0, false
	}
	b, err := strconv.Atoi(base)
	if err != nil {
		return 0, false
	}
	i, err := strconv.Atoi(incr)
	if err != nil {
		return 0, false
	}
	return b + 40*i, true
}
