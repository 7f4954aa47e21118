package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BenjaminSRussell/siteaudit/internal/types"
)

const (
	resultsFile = "results.jsonl"
	targetFile  = "crawl.json"
)

// Storage appends page results to a JSONL file in a data directory. It
// implements progress.Sink so it can sit next to the live stream.
type Storage struct {
	dataDir string
	mu      sync.Mutex
	jsonl   *os.File
}

// New creates a new storage instance
func New(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	jsonlPath := filepath.Join(dataDir, resultsFile)
	file, err := os.OpenFile(jsonlPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}

	return &Storage{
		dataDir: dataDir,
		jsonl:   file,
	}, nil
}

// SaveResult saves a page result to storage
func (s *Storage) SaveResult(result types.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if _, err := s.jsonl.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	return nil
}

// Send stores page results; status events carry nothing worth persisting.
func (s *Storage) Send(ctx context.Context, event types.Event) error {
	if event.URLStatus == nil {
		return nil
	}
	return s.SaveResult(*event.URLStatus)
}

// SaveTarget records what was crawled into this directory
func (s *Storage) SaveTarget(target types.CrawlTarget) error {
	path := filepath.Join(s.dataDir, targetFile)

	data, err := json.MarshalIndent(target, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal target: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write target: %w", err)
	}

	return nil
}

// LoadTarget loads the crawl target saved by SaveTarget
func LoadTarget(dataDir string) (types.CrawlTarget, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, targetFile))
	if err != nil {
		return types.CrawlTarget{}, fmt.Errorf("failed to read target: %w", err)
	}

	var target types.CrawlTarget
	if err := json.Unmarshal(data, &target); err != nil {
		return types.CrawlTarget{}, fmt.Errorf("failed to unmarshal target: %w", err)
	}

	return target, nil
}

// LoadResults loads all page results stored in dataDir. Malformed lines are skipped.
func LoadResults(dataDir string) ([]types.PageResult, error) {
	file, err := os.Open(filepath.Join(dataDir, resultsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []types.PageResult{}, nil
		}
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	results := make([]types.PageResult, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var result types.PageResult
		if err := json.Unmarshal(line, &result); err == nil {
			results = append(results, result)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL file: %w", err)
	}

	return results, nil
}

// Close closes the storage
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jsonl != nil {
		err := s.jsonl.Close()
		s.jsonl = nil
		return err
	}

	return nil
}
