package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

// readDefinition loads a definition document from path, or from stdin when
// path is "-".
func readDefinition(path string, stdin io.Reader) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("definition file is required")
	}
	if path == "-" {
		return io.ReadAll(stdin)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve definition path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("definition file does not exist: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("definition path %s is a directory", abs)
	}
	return os.ReadFile(abs)
}

func parseType(raw string) (execution.Type, error) {
	return execution.ParseType(strings.ToLower(strings.TrimSpace(raw)))
}
