package sheets

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Zone sheet column positions.
const (
	colWeek      = 0
	colCountry   = 2
	colCity      = 3
	colZoneClass = 5
	colBases     = 7
	colOrders    = 8
)

const topCitiesLimit = 3

var weekLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Week is a closed Monday..Sunday span. End is the Sunday.
type Week struct {
	Start time.Time
	End   time.Time
}

// ClosedWeek returns the last fully finished week before now. On a Sunday the
// running week is not finished yet, so the week before it is returned.
func ClosedWeek(now time.Time) Week {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	sinceMonday := (int(day.Weekday()) + 6) % 7
	thisMonday := day.AddDate(0, 0, -sinceMonday)
	start := thisMonday.AddDate(0, 0, -7)
	return Week{Start: start, End: start.AddDate(0, 0, 6)}
}

// Previous returns the week before w.
func (w Week) Previous() Week {
	return Week{Start: w.Start.AddDate(0, 0, -7), End: w.End.AddDate(0, 0, -7)}
}

// Contains reports whether t falls on one of the week's days.
func (w Week) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End.AddDate(0, 0, 1))
}

// Metric compares a value between the analysed week and the one before.
type Metric struct {
	Current float64 `json:"current"`
	Prev    float64 `json:"prev"`
	WoW     float64 `json:"wow"`
}

// CityVolume is one entry of a top-cities ranking.
type CityVolume struct {
	City   string  `json:"city"`
	Volume float64 `json:"volume"`
}

// ZoneStats aggregates one zone class of a country.
type ZoneStats struct {
	Orders    Metric       `json:"orders"`
	Bases     Metric       `json:"bases"`
	TopCities []CityVolume `json:"topCities"`
}

// ZoneAnalysis maps country to "zone<class>" to its stats.
type ZoneAnalysis map[string]map[string]*ZoneStats

// AggregateZones sums the orders and bases sheets (header rows included) into
// current vs previous week figures for the given closed week.
func AggregateZones(orders, bases [][]string, week Week) ZoneAnalysis {
	analysis := make(ZoneAnalysis)
	cities := make(map[*ZoneStats]map[string]float64)
	prev := week.Previous()

	process := func(rows [][]string, col int, isOrders bool) {
		if len(rows) == 0 {
			return
		}
		for _, row := range rows[1:] {
			if len(row) <= col {
				continue
			}
			country := strings.TrimSpace(row[colCountry])
			class := strings.TrimSpace(row[colZoneClass])
			if country == "" || class == "" {
				continue
			}
			day, ok := parseWeek(row[colWeek], week.Start.Location())
			if !ok {
				continue
			}
			var current bool
			switch {
			case week.Contains(day):
				current = true
			case prev.Contains(day):
				current = false
			default:
				continue
			}

			stats := analysis.entry(country, "zone"+class)
			value := parseNumber(row[col])
			metric := &stats.Bases
			if isOrders {
				metric = &stats.Orders
			}
			if current {
				metric.Current += value
			} else {
				metric.Prev += value
			}

			if isOrders && current {
				if cities[stats] == nil {
					cities[stats] = make(map[string]float64)
				}
				cities[stats][strings.TrimSpace(row[colCity])] += value
			}
		}
	}
	process(orders, colOrders, true)
	process(bases, colBases, false)

	for _, zones := range analysis {
		for _, stats := range zones {
			stats.Orders.WoW = wow(stats.Orders)
			stats.Bases.WoW = wow(stats.Bases)
			stats.TopCities = topCities(cities[stats], topCitiesLimit)
		}
	}
	return analysis
}

func (a ZoneAnalysis) entry(country, zone string) *ZoneStats {
	if a[country] == nil {
		a[country] = make(map[string]*ZoneStats)
	}
	stats := a[country][zone]
	if stats == nil {
		stats = &ZoneStats{TopCities: []CityVolume{}}
		a[country][zone] = stats
	}
	return stats
}

func wow(m Metric) float64 {
	if m.Prev <= 0 {
		return 0
	}
	return (m.Current - m.Prev) / m.Prev * 100
}

func topCities(volumes map[string]float64, n int) []CityVolume {
	out := make([]CityVolume, 0, len(volumes))
	for city, v := range volumes {
		out = append(out, CityVolume{City: city, Volume: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].City < out[j].City
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func parseWeek(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range weekLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

// parseNumber reads an integer-ish cell such as "1,234" or "87". Anything
// unparseable counts as zero.
func parseNumber(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
