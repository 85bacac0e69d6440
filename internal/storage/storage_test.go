package storage

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"statusmon/internal/models"
)

func record(name string, status models.Status, host string) models.StatusRecord {
	return models.StatusRecord{
		ServiceName:   name,
		ServiceStatus: status,
		HostName:      host,
		ObservedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "data", "records.json"))
			if err != nil {
				t.Fatalf("NewFileStore() err=%v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "records.db")})
			if err != nil {
				t.Fatalf("NewSQLiteStore() err=%v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"s3": func(t *testing.T) Store { return newS3Store(newFakeS3(2), "bucket", "statusmon/") },
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			if _, err := s.Get(ctx, "services", "httpd"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() on empty store err=%v, want ErrNotFound", err)
			}
			empty, err := Collect(s.SearchAll(ctx, "services"))
			if err != nil || len(empty) != 0 {
				t.Fatalf("SearchAll() on empty store = %v, %v", empty, err)
			}

			if err := s.Upsert(ctx, "services", "httpd", record("httpd", models.StatusUp, "h1")); err != nil {
				t.Fatalf("Upsert() err=%v", err)
			}
			got, err := s.Get(ctx, "services", "httpd")
			if err != nil || got.ServiceStatus != models.StatusUp {
				t.Fatalf("Get() after upsert = %+v, %v", got, err)
			}

			// last write wins
			if err := s.Upsert(ctx, "services", "httpd", record("httpd", models.StatusDown, "h2")); err != nil {
				t.Fatalf("second Upsert() err=%v", err)
			}
			got, err = s.Get(ctx, "services", "httpd")
			if err != nil || got.ServiceStatus != models.StatusDown || got.HostName != "h2" {
				t.Fatalf("Get() after overwrite = %+v, %v", got, err)
			}

			for _, n := range []string{"postgresql", "rabbitmq-server", "sshd"} {
				if err := s.Upsert(ctx, "services", n, record(n, models.StatusUp, "h1")); err != nil {
					t.Fatalf("Upsert(%s) err=%v", n, err)
				}
			}
			if err := s.Upsert(ctx, "other", "httpd", record("httpd", models.StatusUp, "h9")); err != nil {
				t.Fatalf("Upsert(other) err=%v", err)
			}

			seq := s.SearchAll(ctx, "services")
			first, err := Collect(seq)
			if err != nil {
				t.Fatalf("SearchAll() err=%v", err)
			}
			var names []string
			for _, rec := range first {
				names = append(names, rec.ServiceName)
			}
			want := []string{"httpd", "postgresql", "rabbitmq-server", "sshd"}
			if diff := cmp.Diff(want, names); diff != "" {
				t.Fatalf("SearchAll() names mismatch (-want +got):\n%s", diff)
			}

			// restartable: a second range sees new writes
			if err := s.Upsert(ctx, "services", "zookeeper", record("zookeeper", models.StatusDown, "h1")); err != nil {
				t.Fatalf("Upsert(zookeeper) err=%v", err)
			}
			second, err := Collect(seq)
			if err != nil || len(second) != 5 {
				t.Fatalf("second range = %d records, %v; want 5", len(second), err)
			}
		})
	}
}

func TestStoreRejectsInvalidRecords(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			bad := []models.StatusRecord{
				{ServiceName: "", ServiceStatus: models.StatusUp},
				{ServiceName: "httpd", ServiceStatus: "RUNNING"},
				{ServiceName: "httpd", ServiceStatus: models.StatusUnknown},
			}
			for _, rec := range bad {
				if err := s.Upsert(ctx, "services", "httpd", rec); !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("Upsert(%+v) err=%v, want ErrInvalidRecord", rec, err)
				}
			}
			if err := s.Upsert(ctx, "services", "", record("httpd", models.StatusUp, "")); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Upsert(empty key) err=%v, want ErrInvalidRecord", err)
			}
			if _, err := s.Get(ctx, "services", "httpd"); !errors.Is(err, ErrNotFound) {
				t.Errorf("invalid upsert mutated store: err=%v", err)
			}
		})
	}
}

func TestSearchAllStopsEarly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, n := range []string{"a", "b", "c"} {
		_ = s.Upsert(ctx, "services", n, record(n, models.StatusUp, ""))
	}
	count := 0
	for range s.SearchAll(ctx, "services") {
		count++
		break
	}
	if count != 1 {
		t.Fatalf("iterations = %d, want 1", count)
	}
}

func TestFileStoreReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() err=%v", err)
	}
	want := record("httpd", models.StatusDown, "h1")
	if err := s.Upsert(ctx, "services", "httpd", want); err != nil {
		t.Fatalf("Upsert() err=%v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen err=%v", err)
	}
	got, err := reopened.Get(ctx, "services", "httpd")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "records.json"))
	if err != nil {
		t.Fatalf("NewFileStore() err=%v", err)
	}

	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, n := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			if err := s.Upsert(ctx, "services", n, record(n, models.StatusUp, "")); err != nil {
				t.Errorf("Upsert(%s) err=%v", n, err)
			}
		}(n)
	}
	wg.Wait()

	all, err := Collect(s.SearchAll(ctx, "services"))
	if err != nil || len(all) != len(names) {
		t.Fatalf("SearchAll() = %d records, %v", len(all), err)
	}
}

// blockingStore never answers until its context is done.
type blockingStore struct{}

func (blockingStore) Upsert(ctx context.Context, _, _ string, _ models.StatusRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) Get(ctx context.Context, _, _ string) (models.StatusRecord, error) {
	<-ctx.Done()
	return models.StatusRecord{}, ctx.Err()
}

func (blockingStore) SearchAll(ctx context.Context, _ string) iter.Seq2[models.StatusRecord, error] {
	return func(yield func(models.StatusRecord, error) bool) {
		<-ctx.Done()
		yield(models.StatusRecord{}, ctx.Err())
	}
}

func (blockingStore) Close() error { return nil }

func TestWithTimeoutMapsDeadlineToUnavailable(t *testing.T) {
	ctx := context.Background()
	s := WithTimeout(blockingStore{}, 20*time.Millisecond)

	start := time.Now()
	if err := s.Upsert(ctx, "services", "httpd", record("httpd", models.StatusUp, "")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Upsert() err=%v, want ErrUnavailable", err)
	}
	if _, err := s.Get(ctx, "services", "httpd"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get() err=%v, want ErrUnavailable", err)
	}
	if _, err := Collect(s.SearchAll(ctx, "services")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("SearchAll() err=%v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeouts took %s", elapsed)
	}
}

func TestWithTimeoutKeepsNotFound(t *testing.T) {
	s := WithTimeout(NewMemoryStore(), time.Second)
	if _, err := s.Get(context.Background(), "services", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() err=%v, want ErrNotFound", err)
	}
}

func TestCanceledContextIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	if err := s.Upsert(ctx, "services", "httpd", record("httpd", models.StatusUp, "")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Upsert() err=%v, want ErrUnavailable", err)
	}
}
