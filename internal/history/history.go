// Package history loads the historical behavior datasets used to
// bootstrap risk statistics for cold-start senders and receivers.
//
// Two CSV datasets exist: a sender-perspective file (who paid whom,
// when, for how much, with what outcome) and a receiver-perspective
// file (payments received, device, declared city, IP-derived city,
// fraud flag). Both are loaded once, lazily, and cached as immutable
// snapshots; a missing or corrupt file degrades to an empty snapshot so
// every derived statistic falls back to zero instead of failing the
// evaluation pipeline.
package history

import (
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/payshield/payshield/internal/geo"
)

// SenderRow is one row of the sender-perspective dataset. IPCity is
// optional; datasets without location columns leave it empty.
type SenderRow struct {
	SenderID   string
	ReceiverID string
	Amount     float64
	Timestamp  time.Time
	Status     string
	IPCity     string
}

// ReceiverRow is one row of the receiver-perspective dataset.
type ReceiverRow struct {
	ReceiverID string
	SenderID   string
	Amount     float64
	Timestamp  time.Time
	Status     string
	DeviceID   string
	City       string
	IPCity     string
	FraudFlag  bool
}

// Dataset lazily loads and memoizes both history files.
type Dataset struct {
	senderPath   string
	receiverPath string
	logger       *slog.Logger

	senderOnce   sync.Once
	receiverOnce sync.Once
	senderRows   []SenderRow   // sorted by timestamp asc, immutable after load
	receiverRows []ReceiverRow // sorted by timestamp asc, immutable after load
}

// New creates a dataset backed by the given CSV paths. Files are not
// touched until first use.
func New(senderPath, receiverPath string, logger *slog.Logger) *Dataset {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dataset{
		senderPath:   senderPath,
		receiverPath: receiverPath,
		logger:       logger,
	}
}

// SenderRows returns the memoized sender-perspective snapshot.
func (d *Dataset) SenderRows() []SenderRow {
	d.senderOnce.Do(func() {
		rows, err := loadSenderCSV(d.senderPath)
		if err != nil {
			d.logger.Warn("sender history unavailable", "path", d.senderPath, "error", err)
			return
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
		d.senderRows = rows
		d.logger.Info("sender history loaded", "path", d.senderPath, "rows", len(rows))
	})
	return d.senderRows
}

// ReceiverRows returns the memoized receiver-perspective snapshot.
func (d *Dataset) ReceiverRows() []ReceiverRow {
	d.receiverOnce.Do(func() {
		rows, err := loadReceiverCSV(d.receiverPath)
		if err != nil {
			d.logger.Warn("receiver history unavailable", "path", d.receiverPath, "error", err)
			return
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
		d.receiverRows = rows
		d.logger.Info("receiver history loaded", "path", d.receiverPath, "rows", len(rows))
	})
	return d.receiverRows
}

// Loaded reports whether either dataset produced at least one row.
// Used by the health endpoint.
func (d *Dataset) Loaded() bool {
	return len(d.SenderRows()) > 0 || len(d.ReceiverRows()) > 0
}

// PairHistory returns the sender-perspective rows for one
// sender->receiver pair, oldest first.
func (d *Dataset) PairHistory(senderID, receiverID string) []SenderRow {
	var out []SenderRow
	for _, r := range d.SenderRows() {
		if r.SenderID == senderID && r.ReceiverID == receiverID {
			out = append(out, r)
		}
	}
	return out
}

// ---------------------------------------------------------------------
// CSV loading
// ---------------------------------------------------------------------

var errMissingColumns = errors.New("history: missing required columns")

const timestampLayout = "2006-01-02 15:04:05"

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func loadSenderCSV(path string) ([]SenderRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	col := indexColumns(header)
	if !col.has("sender_id", "receiver_id", "amount", "timestamp", "status") {
		return nil, errMissingColumns
	}

	var rows []SenderRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Skip malformed rows; partial data beats no data.
			continue
		}
		ts, err := parseTimestamp(col.get(rec, "timestamp"))
		if err != nil {
			continue
		}
		amount, _ := strconv.ParseFloat(col.get(rec, "amount"), 64)
		rows = append(rows, SenderRow{
			SenderID:   strings.TrimSpace(col.get(rec, "sender_id")),
			ReceiverID: strings.ToLower(strings.TrimSpace(col.get(rec, "receiver_id"))),
			Amount:     amount,
			Timestamp:  ts,
			Status:     strings.ToUpper(strings.TrimSpace(col.get(rec, "status"))),
			IPCity:     strings.TrimSpace(col.get(rec, "ip_city")),
		})
	}
	return rows, nil
}

func loadReceiverCSV(path string) ([]ReceiverRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	col := indexColumns(header)
	if !col.has("receiver_id", "amount", "timestamp") {
		return nil, errMissingColumns
	}

	var rows []ReceiverRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		ts, err := parseTimestamp(col.get(rec, "timestamp"))
		if err != nil {
			continue
		}
		amount, _ := strconv.ParseFloat(col.get(rec, "amount"), 64)
		fraud := col.get(rec, "fraud_flag")
		rows = append(rows, ReceiverRow{
			ReceiverID: strings.ToLower(strings.TrimSpace(col.get(rec, "receiver_id"))),
			SenderID:   strings.TrimSpace(col.get(rec, "sender_id")),
			Amount:     amount,
			Timestamp:  ts,
			Status:     strings.ToUpper(strings.TrimSpace(col.get(rec, "status"))),
			DeviceID:   strings.TrimSpace(col.get(rec, "device_id")),
			City:       strings.TrimSpace(col.get(rec, "city")),
			IPCity:     strings.TrimSpace(col.get(rec, "ip_city")),
			FraudFlag:  fraud == "1" || strings.EqualFold(fraud, "true"),
		})
	}
	return rows, nil
}

type columnIndex map[string]int

func indexColumns(header []string) columnIndex {
	idx := make(columnIndex, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func (c columnIndex) has(names ...string) bool {
	for _, n := range names {
		if _, ok := c[n]; !ok {
			return false
		}
	}
	return true
}

func (c columnIndex) get(rec []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// ---------------------------------------------------------------------
// Receiver profile
// ---------------------------------------------------------------------

// ReceiverProfile aggregates a receiver's behavior across the
// receiver-perspective dataset.
type ReceiverProfile struct {
	Exists                bool
	TotalTxns             int
	FraudFlagRatio        float64
	FlaggedCount          int
	UniqueDevices         int
	UniqueSenders         int
	LocationMismatches    int
	ImpossibleTravelCount int
	ImpossibleTravels     []geo.CityPairEvent
	AvgAmount             float64
	MaxAmount             float64
}

// ReceiverProfile builds the behavioral profile for one receiver.
func (d *Dataset) ReceiverProfile(receiverID string) ReceiverProfile {
	receiverID = strings.ToLower(strings.TrimSpace(receiverID))

	var rows []ReceiverRow
	for _, r := range d.ReceiverRows() {
		if r.ReceiverID == receiverID {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return ReceiverProfile{}
	}

	p := ReceiverProfile{Exists: true, TotalTxns: len(rows)}

	devices := map[string]struct{}{}
	senders := map[string]struct{}{}
	var sum float64
	for _, r := range rows {
		if r.FraudFlag {
			p.FlaggedCount++
		}
		if r.DeviceID != "" {
			devices[r.DeviceID] = struct{}{}
		}
		if r.SenderID != "" {
			senders[r.SenderID] = struct{}{}
		}
		if r.City != "" && r.IPCity != "" && !strings.EqualFold(r.City, r.IPCity) {
			p.LocationMismatches++
		}
		sum += r.Amount
		if r.Amount > p.MaxAmount {
			p.MaxAmount = r.Amount
		}
	}
	p.UniqueDevices = len(devices)
	p.UniqueSenders = len(senders)
	p.FraudFlagRatio = float64(p.FlaggedCount) / float64(len(rows))
	p.AvgAmount = sum / float64(len(rows))

	// Rows are already time-ordered; walk consecutive pairs for travel
	// that is physically impossible.
	for i := 1; i < len(rows); i++ {
		prevCity := cityOf(rows[i-1])
		currCity := cityOf(rows[i])
		if ev, ok := geo.CheckCityPair(prevCity, currCity, rows[i-1].Timestamp, rows[i].Timestamp); ok {
			p.ImpossibleTravels = append(p.ImpossibleTravels, ev)
		}
	}
	p.ImpossibleTravelCount = len(p.ImpossibleTravels)

	return p
}

func cityOf(r ReceiverRow) string {
	if r.IPCity != "" {
		return r.IPCity
	}
	return r.City
}
