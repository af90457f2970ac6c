package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const senderCSV = `sender_id,receiver_id,amount,timestamp,status,ip_city
user1,shop@upi,500,2025-05-01 10:00:00,COMPLETED,Chennai
user1,shop@upi,700,2025-05-02 11:00:00,COMPLETED,Chennai
user1,friend@upi,200,2025-05-03 22:30:00,COMPLETED,Chennai
user1,friend@upi,9000,2025-05-04 11:30:00,FAILED,Chennai
user2,shop@upi,100,2025-05-01 09:00:00,COMPLETED,Mumbai
`

const receiverCSV = `receiver_id,sender_id,amount,timestamp,status,device_id,city,ip_city,fraud_flag
scam@upi,user7,2000,2025-05-01 10:00:00,COMPLETED,dev1,Chennai,Chennai,1
scam@upi,user8,3000,2025-05-01 10:30:00,COMPLETED,dev2,Chennai,Delhi,1
scam@upi,user9,1000,2025-05-01 11:00:00,COMPLETED,dev3,Delhi,Hyderabad,0
shop@upi,user1,500,2025-05-01 10:00:00,COMPLETED,dev9,Chennai,Chennai,0
`

func newTestDataset(t *testing.T) *Dataset {
	t.Helper()
	dir := t.TempDir()
	s := writeFile(t, dir, "sender.csv", senderCSV)
	r := writeFile(t, dir, "receiver.csv", receiverCSV)
	return New(s, r, nil)
}

func TestSenderStatsBasicAggregates(t *testing.T) {
	d := newTestDataset(t)
	now := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)

	s := d.SenderStats("user1", now)

	if s.TxnCount30d != 4 {
		t.Errorf("TxnCount30d = %d, want 4", s.TxnCount30d)
	}
	wantAvg := (500.0 + 700 + 200 + 9000) / 4
	if s.AvgAmount30d != wantAvg {
		t.Errorf("AvgAmount30d = %.2f, want %.2f", s.AvgAmount30d, wantAvg)
	}
	if s.MaxAmountOverall != 9000 {
		t.Errorf("MaxAmountOverall = %.0f, want 9000", s.MaxAmountOverall)
	}
	if s.FailedTxnCount7d != 1 {
		t.Errorf("FailedTxnCount7d = %d, want 1", s.FailedTxnCount7d)
	}
	if s.DaysSinceLast != 1 {
		t.Errorf("DaysSinceLast = %d, want 1", s.DaysSinceLast)
	}
	// One of four transactions was at 22:30.
	if s.NightTxnRatio != 0.25 {
		t.Errorf("NightTxnRatio = %.2f, want 0.25", s.NightTxnRatio)
	}
	if s.LastCity != "Chennai" {
		t.Errorf("LastCity = %q, want Chennai", s.LastCity)
	}
}

func TestSenderStatsReanchorsStaleWindow(t *testing.T) {
	d := newTestDataset(t)
	// Far in the future: every live window is empty.
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s := d.SenderStats("user1", now)
	if s.TxnCount30d == 0 {
		t.Fatal("expected re-anchored window to contain transactions")
	}
	if s.AvgAmount30d == 0 {
		t.Error("expected non-zero 30d average after re-anchor")
	}
	// Days since last still measures against the caller's now.
	if s.DaysSinceLast < 200 {
		t.Errorf("DaysSinceLast = %d, want >200", s.DaysSinceLast)
	}
}

func TestSenderStatsUnknownSender(t *testing.T) {
	d := newTestDataset(t)
	s := d.SenderStats("ghost", time.Now())
	if s.TxnCount30d != 0 || s.AvgAmountOverall != 0 {
		t.Error("unknown sender must produce zero stats")
	}
	if s.DaysSinceLast != daysSinceLastDefault {
		t.Errorf("DaysSinceLast = %d, want %d", s.DaysSinceLast, daysSinceLastDefault)
	}
}

func TestReceiverProfile(t *testing.T) {
	d := newTestDataset(t)

	p := d.ReceiverProfile("scam@upi")
	if !p.Exists {
		t.Fatal("receiver should exist")
	}
	if p.TotalTxns != 3 {
		t.Errorf("TotalTxns = %d, want 3", p.TotalTxns)
	}
	if p.FlaggedCount != 2 {
		t.Errorf("FlaggedCount = %d, want 2", p.FlaggedCount)
	}
	if p.UniqueDevices != 3 {
		t.Errorf("UniqueDevices = %d, want 3", p.UniqueDevices)
	}
	// Rows 2 and 3 declare a city different from the IP-derived city.
	if p.LocationMismatches != 2 {
		t.Errorf("LocationMismatches = %d, want 2", p.LocationMismatches)
	}
	// Chennai -> Delhi in 30 min, Delhi -> Hyderabad in 30 min.
	if p.ImpossibleTravelCount != 2 {
		t.Errorf("ImpossibleTravelCount = %d, want 2", p.ImpossibleTravelCount)
	}
}

func TestReceiverProfileUnknown(t *testing.T) {
	d := newTestDataset(t)
	p := d.ReceiverProfile("nobody@upi")
	if p.Exists {
		t.Error("unknown receiver must not exist")
	}
}

func TestMissingFilesDegradeToEmpty(t *testing.T) {
	d := New("/nonexistent/sender.csv", "/nonexistent/receiver.csv", nil)
	if d.Loaded() {
		t.Error("missing files should load as empty")
	}
	s := d.SenderStats("user1", time.Now())
	if s.TxnCount30d != 0 {
		t.Error("stats from missing file must be zero")
	}
}

func TestConcurrentFirstAccessLoadsOnce(t *testing.T) {
	d := newTestDataset(t)

	var wg sync.WaitGroup
	results := make([]int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = len(d.SenderRows())
		}(i)
	}
	wg.Wait()

	for i, n := range results {
		if n != 5 {
			t.Fatalf("goroutine %d saw %d rows, want 5", i, n)
		}
	}
}

func TestPairHistory(t *testing.T) {
	d := newTestDataset(t)
	rows := d.PairHistory("user1", "shop@upi")
	if len(rows) != 2 {
		t.Fatalf("pair rows = %d, want 2", len(rows))
	}
	if !rows[0].Timestamp.Before(rows[1].Timestamp) {
		t.Error("pair history must be oldest first")
	}
}

func TestMalformedRowsSkipped(t *testing.T) {
	dir := t.TempDir()
	bad := "sender_id,receiver_id,amount,timestamp,status\n" +
		"user1,a@upi,100,not-a-date,COMPLETED\n" +
		"user1,a@upi,100,2025-05-01 10:00:00,COMPLETED\n"
	s := writeFile(t, dir, "sender.csv", bad)
	r := writeFile(t, dir, "receiver.csv", "receiver_id,amount,timestamp\n")

	d := New(s, r, nil)
	if got := len(d.SenderRows()); got != 1 {
		t.Errorf("rows = %d, want 1 (malformed skipped)", got)
	}
}

func BenchmarkSenderStats(b *testing.B) {
	dir := b.TempDir()
	content := "sender_id,receiver_id,amount,timestamp,status\n"
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2000; i++ {
		content += fmt.Sprintf("user1,r%d@upi,%d,%s,COMPLETED\n",
			i%20, 100+i, base.Add(time.Duration(i)*time.Minute).Format("2006-01-02 15:04:05"))
	}
	sPath := filepath.Join(dir, "sender.csv")
	if err := os.WriteFile(sPath, []byte(content), 0o644); err != nil {
		b.Fatal(err)
	}
	d := New(sPath, filepath.Join(dir, "none.csv"), nil)
	now := base.Add(2000 * time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.SenderStats("user1", now)
	}
}
