package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"neuroscan/db"
	"neuroscan/ml"
)

type fakePredictor struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePredictor) PredictReader(r io.Reader) (ml.Prediction, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	data, err := io.ReadAll(r)
	if err != nil {
		return ml.Prediction{}, err
	}
	if bytes.HasPrefix(data, []byte("bad")) {
		return ml.Prediction{}, fmt.Errorf("%w: not an image", ml.ErrImageDecode)
	}
	return ml.Prediction{
		PredictionResult: ml.PredictionResult{Label: "Tumor Detected: Glioma", Confidence: 0.8},
		Category:         "glioma",
	}, nil
}

func (f *fakePredictor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryStore struct {
	mu      sync.Mutex
	records []db.ScanRecord
}

func (m *memoryStore) SaveScan(rec db.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) PublishScan(rec db.ScanRecord) error { return m.SaveScan(rec) }

func (m *memoryStore) Records() []db.ScanRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.ScanRecord(nil), m.records...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newTestIngester(t *testing.T, dir string) (*ScanIngester, *fakePredictor, *memoryStore, *memoryStore) {
	t.Helper()
	predictor := &fakePredictor{}
	store, published := &memoryStore{}, &memoryStore{}
	ingester, err := NewScanIngester(IngestionConfig{
		Dir:         dir,
		Workers:     2,
		SettleDelay: 50 * time.Millisecond,
	}, predictor, store, published, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ingester, predictor, store, published
}

func TestIngesterClassifiesDroppedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.png"), []byte("scan-one"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ingester, predictor, store, published := newTestIngester(t, dir)
	if err := ingester.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ingester.Stop()

	waitFor(t, func() bool { return len(store.Records()) == 1 })

	for name, body := range map[string]string{
		"dropped.jpg": "scan-two",
		"notes.txt":   "ignored",
		".hidden.png": "ignored",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	waitFor(t, func() bool { return len(store.Records()) == 2 })
	time.Sleep(200 * time.Millisecond)

	records := store.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %+v", records)
	}
	for _, rec := range records {
		if rec.Status != db.StatusClassified || rec.Source != db.SourceInbox || rec.SHA256 == "" || rec.ScanID == "" {
			t.Fatalf("unexpected record %+v", rec)
		}
		if rec.Label != "Tumor Detected: Glioma" || rec.Confidence != 0.8 {
			t.Fatalf("unexpected prediction in record %+v", rec)
		}
	}
	if len(published.Records()) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(published.Records()))
	}
	if predictor.Calls() != 2 {
		t.Fatalf("expected 2 predictor calls, got %d", predictor.Calls())
	}
	if stats := ingester.Stats(); stats.Processed != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestProcessFileUsesContentCache(t *testing.T) {
	dir := t.TempDir()
	ingester, predictor, store, _ := newTestIngester(t, dir)
	for _, name := range []string{"a.png", "b.png"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("same-bytes"), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := ingester.ProcessFile(path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if predictor.Calls() != 1 {
		t.Fatalf("expected cached second scan, predictor called %d times", predictor.Calls())
	}
	records := store.Records()
	if len(records) != 2 || records[0].SHA256 != records[1].SHA256 || records[0].ScanID == records[1].ScanID {
		t.Fatalf("unexpected records %+v", records)
	}
	if stats := ingester.Stats(); stats.Cached != 1 || stats.Processed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestProcessFileRecordsFailures(t *testing.T) {
	dir := t.TempDir()
	ingester, _, store, published := newTestIngester(t, dir)
	path := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(path, []byte("bad bytes"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := ingester.ProcessFile(path)
	if !errors.Is(err, ml.ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode, got %v", err)
	}
	if rec.Status != db.StatusFailed || rec.Error == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(store.Records()) != 1 || len(published.Records()) != 1 {
		t.Fatal("failed scans must still be stored and published")
	}

	if _, err := ingester.ProcessFile(filepath.Join(dir, "missing.png")); !errors.Is(err, ml.ErrImageDecode) {
		t.Fatalf("expected ErrImageDecode for missing file, got %v", err)
	}
	if stats := ingester.Stats(); stats.Failed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestScheduleQueuesOnceWhenTimerAlreadyFired(t *testing.T) {
	ingester, _, _, _ := newTestIngester(t, t.TempDir())
	ingester.config.SettleDelay = 10 * time.Millisecond
	path := filepath.Join(ingester.config.Dir, "scan.png")

	ingester.schedule(path)

	// Hold the lock until the first timer has fired and is waiting on it,
	// then reschedule as a late write event would.
	ingester.pendingLock.Lock()
	time.Sleep(50 * time.Millisecond)
	ingester.scheduleLocked(path)
	ingester.pendingLock.Unlock()

	time.Sleep(100 * time.Millisecond)
	if got := len(ingester.queue); got != 1 {
		t.Fatalf("expected path to be queued once, got %d", got)
	}
}

func TestStartFailureLeavesNothingRunning(t *testing.T) {
	parent := t.TempDir()
	notADir := filepath.Join(parent, "inbox")
	if err := os.WriteFile(notADir, []byte("x"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ingester, _, _, _ := newTestIngester(t, notADir)
	if err := ingester.Start(); err == nil {
		t.Fatal("expected Start to fail when the inbox is a file")
	}

	done := make(chan error, 1)
	go func() { done <- ingester.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after a failed Start")
	}
}
