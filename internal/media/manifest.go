package media

import (
	"math"
	"sort"
	"time"
)

// Manifest is the normalized presentation description. Periods are sorted
// by start and never overlap.
type Manifest struct {
	URL     string
	Periods []*Period
	Live    bool

	// MinPosition and MaxPosition bound the seekable range. When MaxPosition
	// is zero it is derived from the periods and their indexes.
	MinPosition float64
	MaxPosition float64

	// RefreshInterval is how often a live manifest should be reloaded.
	RefreshInterval time.Duration
}

// NewManifest creates a manifest and sorts its periods.
func NewManifest(url string, periods []*Period, live bool) *Manifest {
	m := &Manifest{URL: url, Periods: periods, Live: live}
	m.sortPeriods()
	return m
}

func (m *Manifest) sortPeriods() {
	sort.SliceStable(m.Periods, func(i, j int) bool {
		return m.Periods[i].Start < m.Periods[j].Start
	})
}

// IsLive reports whether the manifest describes live content.
func (m *Manifest) IsLive() bool {
	return m.Live
}

// PeriodForTime returns the period containing t, or nil.
func (m *Manifest) PeriodForTime(t float64) *Period {
	for _, p := range m.Periods {
		if p.Contains(t) {
			return p
		}
	}
	return nil
}

// PeriodAfter returns the period following p, or nil.
func (m *Manifest) PeriodAfter(p *Period) *Period {
	for i, cur := range m.Periods {
		if cur.ID == p.ID {
			if i+1 < len(m.Periods) {
				return m.Periods[i+1]
			}
			return nil
		}
	}
	// p no longer in the manifest: first period starting at or after its end
	for _, cur := range m.Periods {
		if cur.Start >= p.End || (!p.HasEnd() && cur.Start > p.Start) {
			return cur
		}
	}
	return nil
}

// FirstPeriodAfterTime returns the first period starting at or after t.
func (m *Manifest) FirstPeriodAfterTime(t float64) *Period {
	for _, p := range m.Periods {
		if p.Start >= t {
			return p
		}
	}
	return nil
}

// PeriodByID returns the period with the given id, or nil.
func (m *Manifest) PeriodByID(id string) *Period {
	for _, p := range m.Periods {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// LastPeriod returns the last period, or nil.
func (m *Manifest) LastPeriod() *Period {
	if len(m.Periods) == 0 {
		return nil
	}
	return m.Periods[len(m.Periods)-1]
}

// MinimumPosition returns the earliest seekable position.
func (m *Manifest) MinimumPosition() float64 {
	if m.MinPosition > 0 || len(m.Periods) == 0 {
		return m.MinPosition
	}
	return m.Periods[0].Start
}

// MaximumPosition returns the latest seekable position.
func (m *Manifest) MaximumPosition() float64 {
	if m.MaxPosition > 0 {
		return m.MaxPosition
	}
	last := m.LastPeriod()
	if last == nil {
		return 0
	}
	if last.HasEnd() {
		return last.End
	}
	maxPos := last.Start
	for _, adaptations := range last.Adaptations {
		for _, a := range adaptations {
			for _, r := range a.Representations {
				if r.Index == nil {
					continue
				}
				if end, ok := r.Index.LastPosition(); ok {
					maxPos = math.Max(maxPos, end)
				}
			}
		}
	}
	return maxPos
}

// Representations returns every representation matching the given ids.
func (m *Manifest) Representations(ids []string) []*Representation {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var out []*Representation
	for _, p := range m.Periods {
		for _, adaptations := range p.Adaptations {
			for _, a := range adaptations {
				for _, r := range a.Representations {
					if _, ok := wanted[r.ID]; ok {
						out = append(out, r)
					}
				}
			}
		}
	}
	return out
}
