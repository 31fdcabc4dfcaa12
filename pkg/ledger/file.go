package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes one directory per execution under baseDir:
//
//	<baseDir>/<execution-id>/record.json
//	<baseDir>/<execution-id>/calls/<nn>-<model>.json
type FileSink struct {
	baseDir string
}

// NewFileSink creates a file sink rooted at baseDir.
func NewFileSink(baseDir string) (*FileSink, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &FileSink{baseDir: baseDir}, nil
}

// Dir returns the directory holding the record for executionID.
func (s *FileSink) Dir(executionID string) string {
	return filepath.Join(s.baseDir, executionID)
}

// Record implements Sink.
func (s *FileSink) Record(_ context.Context, rec Record) error {
	if rec.ExecutionID == "" {
		return fmt.Errorf("execution ID is required")
	}
	dir := s.Dir(rec.ExecutionID)
	if err := os.MkdirAll(filepath.Join(dir, "calls"), 0755); err != nil {
		return err
	}
	for i, call := range rec.Calls {
		name := fmt.Sprintf("%02d-%s.json", i+1, fileSafe(call.ModelID))
		if err := writeJSON(filepath.Join(dir, "calls", name), call); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, "record.json"), rec)
}

// Read loads the record written for executionID.
func (s *FileSink) Read(executionID string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(filepath.Join(s.Dir(executionID), "record.json"))
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(data, &rec)
	return rec, err
}

func fileSafe(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(s)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
