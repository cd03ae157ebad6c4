package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (*FileLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewFileLogger(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func TestFileLogger_LogAndQuery(t *testing.T) {
	l, _ := newTestLogger(t)

	ev := NewEvent("org-test", "admin", "tunnel-create").
		WithDevice("d1").
		WithTunnel("t1").
		WithJobs("j1", "j2").
		WithSuccess().
		WithDuration(120 * time.Millisecond)
	if err := l.Log(ev); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(NewEvent("org-test", "admin", "tunnel-delete").WithTunnel("t1").WithError(errors.New("boom"))); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(NewEvent("org-other", "ops", "device-modify").WithDevice("d9").WithSuccess()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	all, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("events %d, want 3", len(all))
	}

	got, _ := l.Query(Filter{Org: "org-test", Operation: "tunnel-create"})
	if len(got) != 1 || got[0].Device != "d1" || len(got[0].JobIDs) != 2 {
		t.Errorf("filtered %+v", got)
	}

	failed, _ := l.Query(Filter{FailureOnly: true})
	if len(failed) != 1 || failed[0].Error != "boom" {
		t.Errorf("failures %+v", failed)
	}

	succeeded, _ := l.Query(Filter{Org: "org-test", SuccessOnly: true})
	if len(succeeded) != 1 || succeeded[0].Operation != "tunnel-create" {
		t.Errorf("successes %+v", succeeded)
	}
}

func TestFileLogger_QueryLimitOffset(t *testing.T) {
	l, _ := newTestLogger(t)
	for i := 0; i < 5; i++ {
		if err := l.Log(NewEvent("org-test", "admin", "device-modify").WithSuccess()); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := l.Query(Filter{Limit: 2})
	if err != nil || len(got) != 2 {
		t.Fatalf("limit: %d events, err %v", len(got), err)
	}
	got, err = l.Query(Filter{Offset: 4})
	if err != nil || len(got) != 1 {
		t.Fatalf("offset: %d events, err %v", len(got), err)
	}
	got, err = l.Query(Filter{Offset: 10})
	if err != nil || len(got) != 0 {
		t.Fatalf("offset past end: %d events, err %v", len(got), err)
	}
}

func TestFileLogger_SkipsMalformedLines(t *testing.T) {
	l, path := newTestLogger(t)
	if err := l.Log(NewEvent("org-test", "admin", "tunnel-create").WithSuccess()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	_, _ = f.WriteString("{not json\n")
	f.Close()

	if err := l.Log(NewEvent("org-test", "admin", "tunnel-delete").WithSuccess()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	got, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("events %d, want 2 (malformed line skipped)", len(got))
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewFileLogger(path, RotationConfig{MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer l.Close()

	// Every write after the first exceeds MaxSize and rotates.
	for i := 0; i < 4; i++ {
		if err := l.Log(NewEvent("org-test", "admin", "device-modify")); err != nil {
			t.Fatalf("Log %d: %v", i, err)
		}
		// Rotated names carry a second-resolution timestamp.
		time.Sleep(1100 * time.Millisecond)
	}

	matches, _ := filepath.Glob(path + ".*")
	if len(matches) > 2 {
		t.Errorf("rotated files %v exceed MaxBackups", matches)
	}
	for _, m := range matches {
		if !strings.HasPrefix(filepath.Base(m), "audit.log.") {
			t.Errorf("unexpected rotated name %s", m)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	// Without a configured logger both calls are no-ops.
	SetDefaultLogger(nil)
	if err := Log(NewEvent("org-test", "admin", "tunnel-create")); err != nil {
		t.Fatalf("Log without logger: %v", err)
	}

	l, _ := newTestLogger(t)
	SetDefaultLogger(l)
	defer SetDefaultLogger(nil)

	if err := Log(NewEvent("org-test", "admin", "tunnel-create").WithSuccess()); err != nil {
		t.Fatalf("Log: %v", err)
	}
	got, err := Query(Filter{Org: "org-test"})
	if err != nil || len(got) != 1 {
		t.Fatalf("Query: %d events, err %v", len(got), err)
	}
}
