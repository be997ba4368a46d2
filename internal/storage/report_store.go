// Package storage persists check reports as JSON documents on the local
// filesystem. Writes are atomic (temp file plus rename) so a crashed run
// never leaves a half-written report behind.
package storage

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

type ReportStore struct {
	baseDir     string
	logger      *logrus.Logger
	mu          sync.RWMutex
	compression bool
	retention   time.Duration
}

func NewReportStore(baseDir string, compression bool, retention time.Duration, logger *logrus.Logger) (*ReportStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	rs := &ReportStore{
		baseDir:     baseDir,
		logger:      logger,
		compression: compression,
		retention:   retention,
	}

	if retention > 0 {
		rs.pruneExpired()
	}

	return rs, nil
}

// Save writes the report under its derived filename and returns the final
// path. With compression enabled the stored file gets a .gz suffix.
func (rs *ReportStore) Save(report *models.CheckReport) (string, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	finalPath := filepath.Join(rs.baseDir, report.Filename())

	tmpFile, err := os.CreateTemp(rs.baseDir, ".report_*.json.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	enc := json.NewEncoder(tmpFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), finalPath); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("atomic rename: %w", err)
	}

	if rs.compression {
		compressedPath := finalPath + ".gz"
		if err := rs.compressFile(finalPath); err != nil {
			rs.logger.Warnf("Failed to compress report file: %v", err)
		} else {
			_ = os.Remove(finalPath)
			finalPath = compressedPath
		}
	}

	rs.logger.Infof("Report saved to %s", finalPath)
	return finalPath, nil
}

// Load reads one report back by filename, transparently decompressing
// .gz files.
func (rs *ReportStore) Load(fileName string) (*models.CheckReport, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	path := filepath.Join(rs.baseDir, fileName)

	var reader io.Reader
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()
	reader = f

	if strings.HasSuffix(strings.ToLower(fileName), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("decompress report: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	var report models.CheckReport
	if err := json.NewDecoder(reader).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

// List returns the stored report filenames, newest first by name (the
// derived filenames embed the check timestamp, so the sort is temporal).
func (rs *ReportStore) List() ([]string, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	entries, err := os.ReadDir(rs.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read report directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (rs *ReportStore) compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// pruneExpired deletes reports older than the retention window, judged by
// file modification time. Failures are logged, never fatal.
func (rs *ReportStore) pruneExpired() {
	cutoff := time.Now().Add(-rs.retention)

	entries, err := os.ReadDir(rs.baseDir)
	if err != nil {
		rs.logger.Warnf("Failed to scan report directory for pruning: %v", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(rs.baseDir, e.Name())); err != nil {
				rs.logger.Warnf("Failed to prune report %s: %v", e.Name(), err)
			} else {
				rs.logger.Debugf("Pruned expired report %s", e.Name())
			}
		}
	}
}
