package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"neuroscan/db"
	"neuroscan/ml"
	"neuroscan/monitoring"
	"neuroscan/pipeline"
)

const (
	defaultMaxUpload = 10 << 20
	defaultScanLimit = 50
	maxScanLimit     = 500
)

// Predictor is the part of ml.Session the handlers need.
type Predictor interface {
	PredictReader(r io.Reader) (ml.Prediction, error)
	Categories() ml.Categories
}

// ScanStore persists and lists scan history.
type ScanStore interface {
	SaveScan(rec db.ScanRecord) error
	RecentScans(limit int) ([]db.ScanRecord, error)
	LatestTrainingRun() (*db.TrainingLog, error)
}

type Publisher interface {
	PublishScan(rec db.ScanRecord) error
}

// Services are the collaborators shared by every handler.
type Services struct {
	Predictor      Predictor
	Scans          ScanStore
	Publisher      Publisher
	Metrics        *monitoring.Metrics
	Hub            *monitoring.Hub
	Inbox          *pipeline.ScanIngester
	Logger         *zap.Logger
	MaxUploadBytes int64
	ClassifierKind string
}

var (
	servicesMu sync.RWMutex
	services   Services
)

func SetServices(s Services) {
	if s.Metrics == nil {
		s.Metrics = monitoring.NewMetrics()
	}
	servicesMu.Lock()
	services = s
	servicesMu.Unlock()
}

func currentServices() Services {
	servicesMu.RLock()
	defer servicesMu.RUnlock()
	svc := services
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	if svc.Metrics == nil {
		svc.Metrics = monitoring.NewMetrics()
	}
	if svc.MaxUploadBytes <= 0 {
		svc.MaxUploadBytes = defaultMaxUpload
	}
	return svc
}

func RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/categories", handleCategories)
	mux.HandleFunc("POST /api/predict", handlePredict)
	mux.HandleFunc("GET /api/scans", handleScans)
	mux.HandleFunc("GET /api/metrics", handleMetrics)
	mux.HandleFunc("GET /api/model", handleModelInfo)
	mux.HandleFunc("GET /api/ws/scans", handleScanStream)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleCategories(w http.ResponseWriter, r *http.Request) {
	svc := currentServices()
	if svc.Predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}
	categories := svc.Predictor.Categories()
	info := make(map[string]CategoryInfo, len(categories))
	for _, name := range categories {
		info[name] = infoFor(name)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": categories, "info": info})
}

type predictResponse struct {
	ID            string          `json:"id"`
	Label         string          `json:"label"`
	Confidence    float64         `json:"confidence"`
	Category      string          `json:"category"`
	Probabilities ml.Distribution `json:"probabilities"`
	Info          CategoryInfo    `json:"info"`
}

func handlePredict(w http.ResponseWriter, r *http.Request) {
	svc := currentServices()
	if svc.Predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}

	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, svc.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if header.Size > svc.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if !allowedImage(header.Filename) {
		writeError(w, http.StatusBadRequest, "only .png, .jpg and .jpeg files are accepted")
		return
	}

	start := time.Now()
	prediction, err := svc.Predictor.PredictReader(file)
	latency := time.Since(start)

	rec := db.ScanRecord{
		ScanID:    uuid.NewString(),
		Source:    db.SourceUpload,
		Filename:  filepath.Base(header.Filename),
		ScannedAt: time.Now().UTC(),
	}
	if err != nil {
		rec.Status = db.StatusFailed
		rec.Error = err.Error()
		svc.Metrics.RecordFailure(db.SourceUpload, latency)
		recordScan(svc, rec)

		status := http.StatusInternalServerError
		if errors.Is(err, ml.ErrImageDecode) {
			status = http.StatusUnprocessableEntity
		}
		svc.Logger.Warn("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("file", rec.Filename),
			zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	rec.Status = db.StatusClassified
	rec.Label = prediction.Label
	rec.Category = prediction.Category
	rec.Confidence = prediction.Confidence
	svc.Metrics.RecordPrediction(db.SourceUpload, prediction.Label, latency)
	recordScan(svc, rec)

	writeJSON(w, http.StatusOK, predictResponse{
		ID:            rec.ScanID,
		Label:         prediction.Label,
		Confidence:    prediction.Confidence,
		Category:      prediction.Category,
		Probabilities: prediction.Probabilities,
		Info:          infoFor(prediction.Category),
	})
}

func recordScan(svc Services, rec db.ScanRecord) {
	if svc.Scans != nil {
		if err := svc.Scans.SaveScan(rec); err != nil {
			svc.Logger.Error("store scan", zap.String("scan_id", rec.ScanID), zap.Error(err))
		}
	}
	if svc.Publisher != nil {
		if err := svc.Publisher.PublishScan(rec); err != nil {
			svc.Logger.Warn("publish scan", zap.String("scan_id", rec.ScanID), zap.Error(err))
		}
	}
}

func allowedImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func handleScans(w http.ResponseWriter, r *http.Request) {
	svc := currentServices()
	if svc.Scans == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history unavailable")
		return
	}

	limit := defaultScanLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}
	if limit > maxScanLimit {
		limit = maxScanLimit
	}

	scans, err := svc.Scans.RecentScans(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scans": scans, "count": len(scans)})
}

type metricsResponse struct {
	monitoring.MetricsSnapshot
	Hub   *monitoring.HubStats     `json:"hub,omitempty"`
	Inbox *pipeline.IngestionStats `json:"inbox,omitempty"`
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	svc := currentServices()
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		io.WriteString(w, svc.Metrics.ExportPrometheus())
		return
	}

	resp := metricsResponse{MetricsSnapshot: svc.Metrics.Snapshot()}
	if svc.Hub != nil {
		stats := svc.Hub.Stats()
		resp.Hub = &stats
	}
	if svc.Inbox != nil {
		stats := svc.Inbox.Stats()
		resp.Inbox = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleScanStream(w http.ResponseWriter, r *http.Request) {
	svc := currentServices()
	if svc.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}
	svc.Hub.HandleWebSocket(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
