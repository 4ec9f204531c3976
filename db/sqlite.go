package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusClassified = "classified"
	StatusFailed     = "failed"

	SourceUpload = "upload"
	SourceInbox  = "inbox"
)

var database *sql.DB

// InitDB opens (creating if needed) the SQLite database and its tables.
func InitDB(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var err error
	database, err = sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return err
	}

	query := `
    CREATE TABLE IF NOT EXISTS scans (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        scan_id TEXT NOT NULL,
        source TEXT NOT NULL,
        filename TEXT NOT NULL,
        sha256 TEXT,
        status TEXT NOT NULL,
        label TEXT,
        category TEXT,
        confidence REAL DEFAULT 0,
        error TEXT,
        scanned_at DATETIME NOT NULL,
        UNIQUE(scan_id)
    );
    CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        accuracy REAL,
        samples INTEGER,
        skipped INTEGER,
        seed INTEGER,
        trained_at DATETIME
    );
    `

	_, err = database.Exec(query)
	return err
}

func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

// ScanRecord is one classified (or failed) image.
type ScanRecord struct {
	ScanID     string    `json:"id"`
	Source     string    `json:"source"`
	Filename   string    `json:"filename"`
	SHA256     string    `json:"sha256,omitempty"`
	Status     string    `json:"status"`
	Label      string    `json:"label,omitempty"`
	Category   string    `json:"category,omitempty"`
	Confidence float64   `json:"confidence"`
	Error      string    `json:"error,omitempty"`
	ScannedAt  time.Time `json:"scanned_at"`
}

func SaveScan(rec ScanRecord) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if rec.ScanID == "" {
		return errors.New("scan id required")
	}
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = time.Now().UTC()
	}
	_, err := database.Exec(`
        INSERT OR REPLACE INTO scans (
            scan_id, source, filename, sha256, status, label, category, confidence, error, scanned_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		rec.ScanID,
		rec.Source,
		rec.Filename,
		rec.SHA256,
		rec.Status,
		rec.Label,
		rec.Category,
		rec.Confidence,
		rec.Error,
		rec.ScannedAt,
	)
	return err
}

// RecentScans returns up to limit scans, newest first.
func RecentScans(limit int) ([]ScanRecord, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := database.Query(`
        SELECT scan_id, source, filename, sha256, status, label, category, confidence, error, scanned_at
        FROM scans
        ORDER BY scanned_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scans := make([]ScanRecord, 0)
	for rows.Next() {
		var rec ScanRecord
		var sha, label, category, msg sql.NullString
		if err := rows.Scan(&rec.ScanID, &rec.Source, &rec.Filename, &sha, &rec.Status,
			&label, &category, &rec.Confidence, &msg, &rec.ScannedAt); err != nil {
			return nil, err
		}
		rec.SHA256 = sha.String
		rec.Label = label.String
		rec.Category = category.String
		rec.Error = msg.String
		scans = append(scans, rec)
	}
	return scans, rows.Err()
}

type TrainingLog struct {
	ModelName string    `json:"model_name"`
	Accuracy  float64   `json:"accuracy"`
	Samples   int       `json:"samples"`
	Skipped   int       `json:"skipped"`
	Seed      int64     `json:"seed"`
	TrainedAt time.Time `json:"trained_at"`
}

func SaveTrainingRun(entry TrainingLog) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now().UTC()
	}
	_, err := database.Exec(`
        INSERT INTO training_log (model_name, accuracy, samples, skipped, seed, trained_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ModelName, entry.Accuracy, entry.Samples, entry.Skipped, entry.Seed, entry.TrainedAt)
	return err
}

// LatestTrainingRun returns sql.ErrNoRows when nothing has been trained yet.
func LatestTrainingRun() (*TrainingLog, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	var entry TrainingLog
	err := database.QueryRow(`
        SELECT model_name, accuracy, samples, skipped, seed, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT 1`).Scan(&entry.ModelName, &entry.Accuracy, &entry.Samples, &entry.Skipped, &entry.Seed, &entry.TrainedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Repository exposes the package functions to callers that take an interface.
type Repository struct{}

func (Repository) SaveScan(rec ScanRecord) error               { return SaveScan(rec) }
func (Repository) RecentScans(limit int) ([]ScanRecord, error) { return RecentScans(limit) }
func (Repository) LatestTrainingRun() (*TrainingLog, error)    { return LatestTrainingRun() }
