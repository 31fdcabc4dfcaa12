package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadRequest reads an execution request from a YAML manifest. A code_file
// entry is resolved relative to the manifest and loaded into Code.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request manifest: %w", err)
	}

	if req.CodeFile != "" {
		if req.Code != "" {
			return nil, fmt.Errorf("request manifest sets both code and code_file")
		}
		codePath := req.CodeFile
		if !filepath.IsAbs(codePath) {
			codePath = filepath.Join(filepath.Dir(path), codePath)
		}
		code, err := os.ReadFile(codePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read code_file: %w", err)
		}
		req.Code = string(code)
	}

	if _, err := ParseMode(string(req.Mode)); err != nil {
		return nil, err
	}
	return &req, nil
}
