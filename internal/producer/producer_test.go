package producer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"statusmon/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu      sync.Mutex
	records []models.StatusRecord
	failFor map[string]bool
}

func (s *recordingSink) Emit(_ context.Context, rec models.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[rec.ServiceName] {
		return errors.New("sink down")
	}
	s.records = append(s.records, rec)
	return nil
}

func statusProbe(statuses map[string]models.Status, failing ...string) Probe {
	fail := make(map[string]bool)
	for _, f := range failing {
		fail[f] = true
	}
	return ProbeFunc(func(_ context.Context, service string) (models.Status, error) {
		if fail[service] {
			return "", &ProbeError{Service: service, Err: errors.New("exec: not found")}
		}
		return statuses[service], nil
	})
}

func newReporter(t *testing.T, services []string, probe Probe, sink Sink) *Reporter {
	t.Helper()
	r, err := New(Config{HostName: "h1", Services: services, Interval: time.Hour}, probe, sink, quietLogger())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	r.now = func() time.Time { return time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(Config{}, statusProbe(nil), &recordingSink{}, nil); err == nil {
		t.Fatal("New() with no services expected error")
	}
}

func TestRunOnce(t *testing.T) {
	sink := &recordingSink{}
	probe := statusProbe(map[string]models.Status{"httpd": models.StatusUp, "postgresql": models.StatusDown})
	r := newReporter(t, []string{"httpd", "postgresql"}, probe, sink)

	records, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() err=%v", err)
	}
	if len(records) != 2 || len(sink.records) != 2 {
		t.Fatalf("records = %d, emitted = %d", len(records), len(sink.records))
	}
	if records[0].ServiceStatus != models.StatusUp || records[1].ServiceStatus != models.StatusDown {
		t.Fatalf("records = %+v", records)
	}
	if records[0].HostName != "h1" || records[0].ObservedAt.IsZero() {
		t.Fatalf("record not stamped: %+v", records[0])
	}
}

func TestRunOnceProbeFailureIsDownAndContinues(t *testing.T) {
	sink := &recordingSink{}
	probe := statusProbe(map[string]models.Status{"postgresql": models.StatusUp}, "httpd")
	r := newReporter(t, []string{"httpd", "postgresql"}, probe, sink)

	records, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() err=%v", err)
	}
	if records[0].ServiceStatus != models.StatusDown {
		t.Fatalf("failed probe status = %s, want DOWN", records[0].ServiceStatus)
	}
	if records[1].ServiceStatus != models.StatusUp {
		t.Fatalf("second service status = %s, want UP", records[1].ServiceStatus)
	}
}

func TestRunOnceInvalidOrPanickingProbe(t *testing.T) {
	probe := ProbeFunc(func(_ context.Context, service string) (models.Status, error) {
		if service == "boom" {
			panic("probe exploded")
		}
		return "running", nil
	})
	sink := &recordingSink{}
	records, err := newReporter(t, []string{"boom", "weird"}, probe, sink).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() err=%v", err)
	}
	for _, rec := range records {
		if rec.ServiceStatus != models.StatusDown {
			t.Fatalf("%s status = %s, want DOWN", rec.ServiceName, rec.ServiceStatus)
		}
	}
}

func TestRunOnceSinkFailureContinues(t *testing.T) {
	sink := &recordingSink{failFor: map[string]bool{"httpd": true}}
	probe := statusProbe(map[string]models.Status{"httpd": models.StatusUp, "sshd": models.StatusUp})
	_, err := newReporter(t, []string{"httpd", "sshd"}, probe, sink).RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce() expected joined sink error")
	}
	if len(sink.records) != 1 || sink.records[0].ServiceName != "sshd" {
		t.Fatalf("emitted = %+v, want only sshd", sink.records)
	}
}

func TestHTTPSink(t *testing.T) {
	var got models.StatusRecord
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/add" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	rec := models.StatusRecord{ServiceName: "httpd", ServiceStatus: models.StatusUp, HostName: "h1"}
	if err := NewHTTPSink(srv.URL+"/", "k3y").Emit(context.Background(), rec); err != nil {
		t.Fatalf("Emit() err=%v", err)
	}
	if got.ServiceName != "httpd" || got.ServiceStatus != models.StatusUp {
		t.Fatalf("server received %+v", got)
	}
	if auth != "Bearer k3y" {
		t.Fatalf("Authorization = %q", auth)
	}
}

func TestHTTPSinkSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"store unavailable","error_type":"store_unavailable"}`))
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, "").Emit(context.Background(), models.StatusRecord{ServiceName: "httpd", ServiceStatus: models.StatusUp})
	if err == nil || err.Error() != "http 503: store unavailable" {
		t.Fatalf("Emit() err=%v", err)
	}
}

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	rec := models.StatusRecord{
		ServiceName:   "rabbitmq-server",
		ServiceStatus: models.StatusDown,
		HostName:      "h1",
		ObservedAt:    time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC),
	}
	path, err := NewFileSink(dir).Write(rec)
	if err != nil {
		t.Fatalf("Write() err=%v", err)
	}
	if filepath.Base(path) != models.StatusFileName("rabbitmq-server", rec.ObservedAt.Local()) {
		t.Fatalf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var back models.StatusRecord
	if err := json.Unmarshal(data, &back); err != nil || back.ServiceStatus != models.StatusDown {
		t.Fatalf("file content = %s, err=%v", data, err)
	}
}

func TestFallbackSink(t *testing.T) {
	dir := t.TempDir()
	sink := FallbackSink{
		Primary:   NewHTTPSink("http://127.0.0.1:1", ""),
		Secondary: NewFileSink(dir),
		Logger:    quietLogger(),
	}
	rec := models.StatusRecord{ServiceName: "httpd", ServiceStatus: models.StatusUp, ObservedAt: time.Now()}
	if err := sink.Emit(context.Background(), rec); err != nil {
		t.Fatalf("Emit() err=%v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || !models.IsStatusFileName(entries[0].Name()) {
		t.Fatalf("spool entries = %v", entries)
	}

	both := FallbackSink{Primary: &recordingSink{failFor: map[string]bool{"httpd": true}}, Secondary: &recordingSink{failFor: map[string]bool{"httpd": true}}, Logger: quietLogger()}
	if err := both.Emit(context.Background(), rec); err == nil {
		t.Fatal("Emit() with both sinks failing expected error")
	}
}

func TestSystemdProbe(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("coreutils not available")
	}
	ctx := context.Background()
	if status, err := (SystemdProbe{Command: "true"}).Probe(ctx, "httpd"); err != nil || status != models.StatusUp {
		t.Fatalf("true probe = %s, %v", status, err)
	}
	if status, err := (SystemdProbe{Command: "false"}).Probe(ctx, "httpd"); err != nil || status != models.StatusDown {
		t.Fatalf("false probe = %s, %v", status, err)
	}
	status, err := (SystemdProbe{Command: "statusmon-no-such-binary"}).Probe(ctx, "httpd")
	var pe *ProbeError
	if !errors.As(err, &pe) || status != models.StatusDown {
		t.Fatalf("missing binary probe = %s, %v", status, err)
	}
}

func TestReporterStartStop(t *testing.T) {
	sink := &recordingSink{}
	r := newReporter(t, []string{"httpd"}, statusProbe(map[string]models.Status{"httpd": models.StatusUp}), sink)
	r.Start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.records)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reporter did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.Stop()
	r.Stop()
}

func TestHTTPProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	probe := NewHTTPProbe(map[string]string{
		"api":    ok.URL,
		"worker": failing.URL,
		"gone":   closedURL,
	})
	probe.Fallback = statusProbe(map[string]models.Status{"httpd": models.StatusUp})

	cases := map[string]models.Status{
		"api":    models.StatusUp,
		"worker": models.StatusDown,
		"gone":   models.StatusDown,
		"httpd":  models.StatusUp,
	}
	for service, want := range cases {
		got, err := probe.Probe(context.Background(), service)
		if err != nil || got != want {
			t.Errorf("Probe(%s) = %s, %v; want %s", service, got, err, want)
		}
	}

	probe.Fallback = nil
	if _, err := probe.Probe(context.Background(), "httpd"); err == nil {
		t.Fatal("Probe() without fallback expected error")
	}
}

func TestFileSinkNamesInLocalTime(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	prev := time.Local
	time.Local = loc
	t.Cleanup(func() { time.Local = prev })

	rec := models.StatusRecord{
		ServiceName:   "httpd",
		ServiceStatus: models.StatusUp,
		ObservedAt:    time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC),
	}
	path, err := NewFileSink(t.TempDir()).Write(rec)
	if err != nil {
		t.Fatalf("Write() err=%v", err)
	}
	if filepath.Base(path) != "httpd-status-20240131210000.json" {
		t.Fatalf("path = %s", path)
	}
}
