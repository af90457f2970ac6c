package history

import (
	"sort"
	"strings"
	"time"

	"github.com/payshield/payshield/internal/geo"
)

// SenderStats aggregates a sender's transaction behavior over rolling
// windows. Zero values mean "no data", never "unknown" — downstream
// ratio arithmetic relies on that.
type SenderStats struct {
	AvgAmount7d      float64
	AvgAmount30d     float64
	AvgAmountOverall float64
	MaxAmount7d      float64
	MaxAmount30d     float64
	MaxAmountOverall float64

	TxnCount5min int
	TxnCount1h   int
	TxnCount24h  int
	TxnCount30d  int

	NightTxnRatio    float64
	FailedTxnCount7d int
	DaysSinceLast    int
	FrequentHours    []int // top 3 hours of day by frequency

	LastCity             string
	ImpossibleTravelFlag bool
	DistanceFromLastCity float64
}

// daysSinceLastDefault marks a sender with no history at all.
const daysSinceLastDefault = 999

// SenderStats computes rolling-window statistics for a sender. When the
// live windows anchored at now contain no rows (the dataset predates
// the window), the windows re-anchor to the sender's most recent
// transaction so demo datasets keep producing meaningful features.
func (d *Dataset) SenderStats(senderID string, now time.Time) SenderStats {
	var txns []SenderRow
	for _, r := range d.SenderRows() {
		if r.SenderID == senderID {
			txns = append(txns, r)
		}
	}
	if len(txns) == 0 {
		return SenderStats{DaysSinceLast: daysSinceLastDefault}
	}

	last := txns[len(txns)-1].Timestamp
	if now.IsZero() {
		now = last
	}

	s := computeWindows(txns, now)
	if s.TxnCount30d == 0 {
		// Dataset older than the window: re-anchor at the newest row.
		s = computeWindows(txns, last)
	}

	s.DaysSinceLast = int(now.Sub(last).Hours() / 24)
	if s.DaysSinceLast < 0 {
		s.DaysSinceLast = 0
	}

	s.LastCity, s.ImpossibleTravelFlag, s.DistanceFromLastCity = lastLocation(txns)

	return s
}

func computeWindows(txns []SenderRow, now time.Time) SenderStats {
	var s SenderStats

	cut30d := now.Add(-30 * 24 * time.Hour)
	cut7d := now.Add(-7 * 24 * time.Hour)
	cut24h := now.Add(-24 * time.Hour)
	cut1h := now.Add(-time.Hour)
	cut5m := now.Add(-5 * time.Minute)

	var sumAll, sum30, sum7 float64
	var n30, n7, night int
	hourCounts := map[int]int{}

	for _, t := range txns {
		sumAll += t.Amount
		if t.Amount > s.MaxAmountOverall {
			s.MaxAmountOverall = t.Amount
		}

		if !t.Timestamp.Before(cut30d) && !t.Timestamp.After(now) {
			n30++
			sum30 += t.Amount
			if t.Amount > s.MaxAmount30d {
				s.MaxAmount30d = t.Amount
			}
			h := t.Timestamp.Hour()
			hourCounts[h]++
			if h >= 22 || h <= 5 {
				night++
			}
			if !t.Timestamp.Before(cut7d) {
				n7++
				sum7 += t.Amount
				if t.Amount > s.MaxAmount7d {
					s.MaxAmount7d = t.Amount
				}
				if t.Status == "FAILED" {
					s.FailedTxnCount7d++
				}
			}
			if !t.Timestamp.Before(cut24h) {
				s.TxnCount24h++
			}
			if !t.Timestamp.Before(cut1h) {
				s.TxnCount1h++
			}
			if !t.Timestamp.Before(cut5m) {
				s.TxnCount5min++
			}
		}
	}

	s.TxnCount30d = n30
	s.AvgAmountOverall = sumAll / float64(len(txns))
	if n30 > 0 {
		s.AvgAmount30d = sum30 / float64(n30)
		s.NightTxnRatio = float64(night) / float64(n30)
	} else {
		s.AvgAmount30d = s.AvgAmountOverall
		s.MaxAmount30d = s.MaxAmountOverall
	}
	if n7 > 0 {
		s.AvgAmount7d = sum7 / float64(n7)
	} else {
		s.AvgAmount7d = s.AvgAmount30d
		s.MaxAmount7d = s.MaxAmount30d
	}

	s.FrequentHours = TopHours(hourCounts, 3)

	return s
}

// TopHours returns the n most frequent hours, most frequent first.
// Ties break toward the earlier hour so the result is deterministic.
func TopHours(counts map[int]int, n int) []int {
	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

// lastLocation inspects the sender's two most recent rows for an
// implausible city change. City names come from the receiver dataset's
// columns when present; sender rows without location yield no signal.
func lastLocation(txns []SenderRow) (city string, impossible bool, distanceKM float64) {
	var located []SenderRow
	for _, t := range txns {
		if t.IPCity != "" {
			located = append(located, t)
		}
	}
	if len(located) == 0 {
		return "", false, 0
	}

	last := located[len(located)-1]
	city = last.IPCity
	if len(located) < 2 {
		return city, false, 0
	}

	prev := located[len(located)-2]
	if ev, ok := geo.CheckCityPair(prev.IPCity, last.IPCity, prev.Timestamp, last.Timestamp); ok {
		return city, true, ev.DistanceKM
	}
	if lat1, lon1, ok := geo.CityCoords(prev.IPCity); ok {
		if lat2, lon2, ok2 := geo.CityCoords(last.IPCity); ok2 {
			distanceKM = geo.Haversine(lat1, lon1, lat2, lon2)
		}
	}
	return city, false, distanceKM
}

// SenderCities maps the receiver-perspective dataset back onto a sender
// to recover the sender's recent cities. Used by the rules engine to
// find the last known location when the live ledger lacks coordinates.
func (d *Dataset) SenderCities(senderID string) []geo.Event {
	var events []geo.Event
	for _, r := range d.ReceiverRows() {
		if r.SenderID != senderID {
			continue
		}
		c := cityOf(r)
		if c == "" {
			continue
		}
		if lat, lon, ok := geo.CityCoords(strings.ToLower(c)); ok {
			events = append(events, geo.Event{Lat: lat, Lon: lon, Timestamp: r.Timestamp})
		}
	}
	return events
}
