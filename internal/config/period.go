package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Period is one calendar month of the corpus archive.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// ParsePeriod reads "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	y, m, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Period{}, fmt.Errorf("period %q is not YYYY-MM", s)
	}
	year, err := strconv.Atoi(y)
	if err != nil {
		return Period{}, fmt.Errorf("period %q: bad year", s)
	}
	month, err := strconv.Atoi(m)
	if err != nil {
		return Period{}, fmt.Errorf("period %q: bad month", s)
	}
	return Period{Year: year, Month: month}, nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

func (p Period) IsZero() bool {
	return p == Period{}
}

// Validate accepts months from the first archive (2013-01) on.
func (p Period) Validate() error {
	if p.IsZero() {
		return fmt.Errorf("not set")
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month %d outside 1..12", p.Month)
	}
	if p.Year < 2013 {
		return fmt.Errorf("year %d before 2013", p.Year)
	}
	return nil
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) Next() Period {
	if p.Month >= 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// UnmarshalJSON accepts both {"year":2024,"month":1} and "2024-01".
func (p *Period) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*p = Period{}
			return nil
		}
		parsed, err := ParsePeriod(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}
	type plain Period
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Period(v)
	return nil
}

// Set implements flag.Value.
func (p *Period) Set(s string) error {
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
