package stats

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	var d []time.Duration
	for i := 100; i >= 1; i-- {
		d = append(d, time.Duration(i)*time.Millisecond)
	}
	s := Summarize(d)
	if s.N != 100 {
		t.Fatalf("N = %d", s.N)
	}
	if s.P50 != 51*time.Millisecond || s.P95 != 95*time.Millisecond || s.P99 != 99*time.Millisecond {
		t.Errorf("percentiles = %v %v %v", s.P50, s.P95, s.P99)
	}
	if s.Max != 100*time.Millisecond {
		t.Errorf("max = %v", s.Max)
	}
	if s.Avg != 50500*time.Microsecond {
		t.Errorf("avg = %v", s.Avg)
	}
	if (Summarize(nil) != Summary{}) {
		t.Error("empty sample should give zero summary")
	}
}

const exposition = `# HELP support_connections_total Current number of open WebSocket connections.
# TYPE support_connections_total gauge
support_connections_total 4
# TYPE support_active_rooms gauge
support_active_rooms 2
# TYPE support_messages_total counter
support_messages_total{sender_type="agent"} 5
support_messages_total{sender_type="customer"} 7
# TYPE support_outbound_dropped_total counter
support_outbound_dropped_total{reason="queue_full"} 1
# TYPE support_broker_operation_seconds histogram
support_broker_operation_seconds_bucket{op="join",le="+Inf"} 4
support_broker_operation_seconds_sum{op="join"} 0.5
support_broker_operation_seconds_count{op="join"} 4
support_broker_operation_seconds_bucket{op="send",le="+Inf"} 6
support_broker_operation_seconds_sum{op="send"} 0.5
support_broker_operation_seconds_count{op="send"} 6
`

func TestParseSnapshotRejectsGarbage(t *testing.T) {
	if _, err := parseSnapshot(strings.NewReader("support_active_rooms{broken 1\n")); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseSnapshotSumsLabels(t *testing.T) {
	snap, err := parseSnapshot(strings.NewReader(exposition))
	if err != nil {
		t.Fatal(err)
	}
	if snap.connections != 4 || snap.activeRooms != 2 {
		t.Errorf("gauges = %+v", snap)
	}
	if snap.messagesTotal != 12 || snap.dropped != 1 {
		t.Errorf("counters = %+v", snap)
	}
	if snap.opSum != 1 || snap.opCount != 10 {
		t.Errorf("histogram = %+v", snap)
	}
}

func TestScraperReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(exposition))
	}))
	defer srv.Close()

	sc := NewScraper(srv.URL, 10*time.Millisecond)
	sc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sc.Stop()

	c := NewCollector()
	var buf bytes.Buffer
	c.SetOutput(&buf)
	c.SetScraper(sc)
	c.AddConnect(time.Millisecond)
	c.AddError()
	c.Report()

	out := buf.String()
	for _, want := range []string{"Connections:  1", "Errors:       1", "Active Rooms", "Server Metrics (Prometheus)"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
