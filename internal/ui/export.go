package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExportFrame writes the unstyled frame to a timestamped file under dir
// and returns the path. The caller logs failures; nothing here is fatal.
func ExportFrame(dir string, cv *Canvas) (string, error) {
	if cv == nil {
		return "", fmt.Errorf("no frame to export")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, "chart_"+time.Now().Format("20060102_150405")+".txt")
	if err := os.WriteFile(path, []byte(cv.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	return path, nil
}
