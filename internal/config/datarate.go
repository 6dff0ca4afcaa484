package config

import (
	"fmt"
	"strconv"
	"strings"
)

var rateUnits = []struct {
	suffix string
	factor float64
}{
	{"gbps", 1e9},
	{"mbps", 1e6},
	{"kbps", 1e3},
	{"bps", 1},
	{"gb/s", 1e9},
	{"mb/s", 1e6},
	{"kb/s", 1e3},
	{"b/s", 1},
}

// ParseDataRate parses strings like "10Mbps", "54 Mb/s" or "500kbps" into
// bits per second. A bare number is taken as bit/s.
func ParseDataRate(s string) (float64, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty data rate")
	}
	factor := 1.0
	for _, u := range rateUnits {
		if strings.HasSuffix(in, u.suffix) {
			in = strings.TrimSpace(strings.TrimSuffix(in, u.suffix))
			factor = u.factor
			break
		}
	}
	v, err := strconv.ParseFloat(in, 64)
	if err != nil {
		return 0, fmt.Errorf("data rate %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("data rate %q must be positive", s)
	}
	return v * factor, nil
}
