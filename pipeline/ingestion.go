package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"neuroscan/db"
	"neuroscan/ml"
)

// Predictor classifies encoded image bytes.
type Predictor interface {
	PredictReader(r io.Reader) (ml.Prediction, error)
}

// ScanStorage persists every scan outcome.
type ScanStorage interface {
	SaveScan(rec db.ScanRecord) error
}

// Publisher announces every scan outcome.
type Publisher interface {
	PublishScan(rec db.ScanRecord) error
}

// Recorder receives latency and outcome counters.
type Recorder interface {
	RecordPrediction(source, label string, latency time.Duration)
	RecordFailure(source string, latency time.Duration)
}

type IngestionConfig struct {
	Dir         string
	Workers     int
	SettleDelay time.Duration
	CacheSize   int
	QueueSize   int
	Extensions  []string
}

type IngestionStats struct {
	Processed int64     `json:"processed"`
	Failed    int64     `json:"failed"`
	Cached    int64     `json:"cached"`
	LastScan  time.Time `json:"last_scan"`
	LastFile  string    `json:"last_file"`
}

// ScanIngester watches an inbox directory and classifies every image that
// lands in it. Results are keyed by content hash so a re-dropped file is not
// classified twice.
type ScanIngester struct {
	config    IngestionConfig
	predictor Predictor
	storage   ScanStorage
	publisher Publisher
	recorder  Recorder
	logger    *zap.Logger

	cache *lru.Cache[string, ml.Prediction]
	queue chan string

	pending     map[string]*time.Timer
	pendingLock sync.Mutex

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	stats     IngestionStats
	statsLock sync.RWMutex
}

func NewScanIngester(config IngestionConfig, predictor Predictor, storage ScanStorage, publisher Publisher, recorder Recorder, logger *zap.Logger) (*ScanIngester, error) {
	if predictor == nil {
		return nil, errors.New("predictor is required")
	}
	if config.Dir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = 500 * time.Millisecond
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".png", ".jpg", ".jpeg"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, ml.Prediction](config.CacheSize)
	if err != nil {
		return nil, err
	}
	return &ScanIngester{
		config:    config,
		predictor: predictor,
		storage:   storage,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger.Named("inbox"),
		cache:     cache,
		queue:     make(chan string, config.QueueSize),
		pending:   make(map[string]*time.Timer),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start begins watching the inbox. Files already present are queued first.
func (si *ScanIngester) Start() error {
	if err := os.MkdirAll(si.config.Dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(si.config.Dir); err != nil {
		watcher.Close()
		return err
	}
	entries, err := os.ReadDir(si.config.Dir)
	if err != nil {
		watcher.Close()
		return err
	}
	si.watcher = watcher

	for i := 0; i < si.config.Workers; i++ {
		si.wg.Add(1)
		go si.worker()
	}
	si.wg.Add(1)
	go si.watchLoop()

	for _, entry := range entries {
		if !entry.IsDir() && si.accepts(entry.Name()) {
			si.schedule(filepath.Join(si.config.Dir, entry.Name()))
		}
	}

	si.logger.Info("watching inbox", zap.String("dir", si.config.Dir), zap.Int("workers", si.config.Workers))
	return nil
}

// Stop halts the watcher and waits for in-flight scans to finish.
func (si *ScanIngester) Stop() error {
	var err error
	si.stopOnce.Do(func() {
		close(si.stopChan)

		si.pendingLock.Lock()
		for path, timer := range si.pending {
			timer.Stop()
			delete(si.pending, path)
		}
		si.pendingLock.Unlock()

		if si.watcher != nil {
			err = si.watcher.Close()
		}
		si.wg.Wait()
		si.logger.Info("inbox stopped")
	})
	return err
}

func (si *ScanIngester) Stats() IngestionStats {
	si.statsLock.RLock()
	defer si.statsLock.RUnlock()
	return si.stats
}

func (si *ScanIngester) watchLoop() {
	defer si.wg.Done()
	for {
		select {
		case <-si.stopChan:
			return
		case event, ok := <-si.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if si.accepts(filepath.Base(event.Name)) {
				si.schedule(event.Name)
			}
		case err, ok := <-si.watcher.Errors:
			if !ok {
				return
			}
			si.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (si *ScanIngester) accepts(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range si.config.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// schedule queues path once it has stopped changing for SettleDelay.
func (si *ScanIngester) schedule(path string) {
	si.pendingLock.Lock()
	defer si.pendingLock.Unlock()
	si.scheduleLocked(path)
}

// scheduleLocked requires pendingLock. A timer that already fired is
// replaced rather than reset; its callback then finds itself superseded.
func (si *ScanIngester) scheduleLocked(path string) {
	if timer, ok := si.pending[path]; ok && timer.Stop() {
		timer.Reset(si.config.SettleDelay)
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(si.config.SettleDelay, func() {
		si.pendingLock.Lock()
		if si.pending[path] != timer {
			si.pendingLock.Unlock()
			return
		}
		delete(si.pending, path)
		si.pendingLock.Unlock()

		select {
		case si.queue <- path:
		case <-si.stopChan:
		}
	})
	si.pending[path] = timer
}

func (si *ScanIngester) worker() {
	defer si.wg.Done()
	for {
		select {
		case <-si.stopChan:
			return
		case path := <-si.queue:
			if _, err := si.ProcessFile(path); err != nil {
				si.logger.Warn("scan failed", zap.String("file", path), zap.Error(err))
			}
		}
	}
}

// ProcessFile classifies one file, stores and publishes the outcome. A
// failed classification is still stored; the returned error describes it.
func (si *ScanIngester) ProcessFile(path string) (db.ScanRecord, error) {
	start := time.Now()
	rec := db.ScanRecord{
		ScanID:   uuid.NewString(),
		Source:   db.SourceInbox,
		Filename: filepath.Base(path),
	}

	prediction, cached, err := si.classify(path, &rec)
	latency := time.Since(start)
	rec.ScannedAt = time.Now().UTC()
	if err != nil {
		rec.Status = db.StatusFailed
		rec.Error = err.Error()
		if si.recorder != nil {
			si.recorder.RecordFailure(db.SourceInbox, latency)
		}
	} else {
		rec.Status = db.StatusClassified
		rec.Label = prediction.Label
		rec.Category = prediction.Category
		rec.Confidence = prediction.Confidence
		if si.recorder != nil {
			si.recorder.RecordPrediction(db.SourceInbox, prediction.Label, latency)
		}
	}
	si.updateStats(rec, cached)

	if si.storage != nil {
		if serr := si.storage.SaveScan(rec); serr != nil {
			si.logger.Error("store scan", zap.String("scan_id", rec.ScanID), zap.Error(serr))
		}
	}
	if si.publisher != nil {
		if perr := si.publisher.PublishScan(rec); perr != nil {
			si.logger.Warn("publish scan", zap.String("scan_id", rec.ScanID), zap.Error(perr))
		}
	}
	if err == nil {
		si.logger.Info("scan classified",
			zap.String("file", rec.Filename),
			zap.String("label", rec.Label),
			zap.Float64("confidence", rec.Confidence),
			zap.Bool("cached", cached),
			zap.Duration("latency", latency))
	}
	return rec, err
}

func (si *ScanIngester) classify(path string, rec *db.ScanRecord) (ml.Prediction, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ml.Prediction{}, false, fmt.Errorf("%w: %v", ml.ErrImageDecode, err)
	}
	sum := sha256.Sum256(data)
	rec.SHA256 = hex.EncodeToString(sum[:])

	if prediction, ok := si.cache.Get(rec.SHA256); ok {
		return prediction, true, nil
	}
	prediction, err := si.predictor.PredictReader(bytes.NewReader(data))
	if err != nil {
		return ml.Prediction{}, false, err
	}
	si.cache.Add(rec.SHA256, prediction)
	return prediction, false, nil
}

func (si *ScanIngester) updateStats(rec db.ScanRecord, cached bool) {
	si.statsLock.Lock()
	defer si.statsLock.Unlock()
	if rec.Status == db.StatusFailed {
		si.stats.Failed++
	} else {
		si.stats.Processed++
	}
	if cached {
		si.stats.Cached++
	}
	si.stats.LastScan = rec.ScannedAt
	si.stats.LastFile = rec.Filename
}
