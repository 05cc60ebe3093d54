package scanners

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxScanFileSize bounds how much of a bundle file the in-process
// sub-scanners will read.
const maxScanFileSize = 10 * 1024 * 1024

// skippedDirs are bundle directories that never hold scannable content.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
}

// walkBundleFiles walks the bundle root and calls fn for each regular file
// under the size limit. Hidden files and well-known dependency directories
// are skipped. A root that does not exist yields no files and no error:
// auto-discovery of bundle content is best-effort.
func walkBundleFiles(root string, fn func(path string, relPath string) error) error {
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat bundle root: %w", err)
	}
	if !info.IsDir() {
		return fn(root, filepath.Base(root))
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (skippedDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") && name != ".env" {
			return nil
		}
		fileInfo, err := d.Info()
		if err != nil {
			return nil // skip files we cannot stat
		}
		if fileInfo.Size() > maxScanFileSize {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}
		return fn(path, relPath)
	})
}

// isTextContent does a simple null-byte check to weed out binaries.
func isTextContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return false
		}
	}
	return true
}

// nativeIssue is the native report record emitted by the in-process
// sub-scanners. The shape matches what the normalizer consumes from
// external tools so every scanner flows through the same pipeline.
type nativeIssue struct {
	Severity    string                 `json:"severity"`
	Message     string                 `json:"message"`
	Title       string                 `json:"title,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Location    string                 `json:"location,omitempty"`
	Remediation string                 `json:"remediation,omitempty"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
}

// issuesReport wraps native issues in the report document shape.
func issuesReport(scanner string, issues []nativeIssue) (*Report, error) {
	payload, err := json.Marshal(map[string][]nativeIssue{"issues": issues})
	if err != nil {
		return nil, &ExecutionError{Scanner: scanner, Kind: FaultInternal, Err: err}
	}
	exitCode := 0
	if len(issues) > 0 {
		exitCode = 1
	}
	return &Report{Scanner: scanner, Payload: payload, ExitCode: exitCode}, nil
}
