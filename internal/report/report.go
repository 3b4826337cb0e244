package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hemascan/hemascan-api/internal/diagnosis"
	"github.com/hemascan/hemascan-api/internal/overlay"
)

// Store persists analysis reports and overlay images under a results
// directory. When the process runs inside Lambda it keeps everything in
// memory and skips the filesystem.
type Store struct {
	dir    string
	lambda bool
	log    *zap.Logger
}

// NewStore creates a store rooted at resultsDir.
func NewStore(resultsDir string, log *zap.Logger) *Store {
	return &Store{
		dir:    resultsDir,
		lambda: os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "",
		log:    log,
	}
}

// SaveReport writes the report as indented JSON and returns the file path,
// or an empty path when persistence is skipped.
func (s *Store) SaveReport(r diagnosis.Report) (string, error) {
	if s.lambda {
		s.log.Info("report generated", zap.String("timestamp", r.Timestamp))
		return "", nil
	}

	dir := filepath.Join(s.dir, "analysis")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("report_%s.json", r.Timestamp))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	s.log.Info("report saved", zap.String("path", path))
	return path, nil
}

// SaveOverlay persists the overlay PNG and returns it as a data URL. On
// Lambda the bytes are only encoded, never written.
func (s *Store) SaveOverlay(timestamp string, pngData []byte) (string, error) {
	if !s.lambda {
		dir := filepath.Join(s.dir, "overlays")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create overlay directory: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("overlay_%s.png", timestamp))
		if err := os.WriteFile(path, pngData, 0o644); err != nil {
			return "", fmt.Errorf("failed to write overlay: %w", err)
		}
		s.log.Info("overlay saved", zap.String("path", path))
	} else {
		s.log.Info("overlay encoded", zap.String("timestamp", timestamp))
	}

	return overlay.DataURL(pngData), nil
}
