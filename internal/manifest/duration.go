package manifest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoDurationRe = regexp.MustCompile(`^(-)?P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses an xs:duration such as "PT1H2M3.5S" into
// seconds. Years and months use 365 and 30 days.
func ParseISODuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}
	units := []float64{365 * 86400, 30 * 86400, 86400, 3600, 60, 1}
	var total float64
	for i, unit := range units {
		v := m[i+2]
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
		}
		total += f * unit
	}
	if m[1] == "-" {
		total = -total
	}
	return total, nil
}

// parseOptionalDuration returns def when s is empty.
func parseOptionalDuration(s string, def float64) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return ParseISODuration(s)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
