// Package bundle resolves a validated configuration-bundle target to a
// local directory the sub-scanners can walk. Local directories are used
// as-is; archive bundles are extracted to a temporary directory.
package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/modelguard/modelguard/pkg/types"
)

// maxExtractedFileSize bounds a single extracted bundle file.
const maxExtractedFileSize = 100 * 1024 * 1024

// CleanupFunc removes whatever Resolve extracted.
type CleanupFunc func()

// Resolve turns a local bundle target into a scannable directory. The
// returned cleanup is never nil.
func Resolve(logger types.Logger, target string) (string, CleanupFunc, error) {
	noop := func() {}

	info, err := os.Stat(target)
	if err != nil {
		return "", noop, fmt.Errorf("failed to stat bundle %s: %w", target, err)
	}
	if info.IsDir() {
		return target, noop, nil
	}

	if !isArchive(target) {
		// A single loose file is treated as a one-file bundle.
		return target, noop, nil
	}

	tmpDir, err := os.MkdirTemp("", "modelguard-bundle-*")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create extraction dir: %w", err)
	}
	cleanup := func() {
		if removeErr := os.RemoveAll(tmpDir); removeErr != nil {
			logger.Warn("failed to clean up extracted bundle",
				zap.String("dir", tmpDir), zap.Error(removeErr))
		}
	}

	if err := extractArchive(target, tmpDir); err != nil {
		cleanup()
		return "", noop, err
	}
	return tmpDir, cleanup, nil
}

func isArchive(path string) bool {
	lowered := strings.ToLower(path)
	for _, suffix := range []string{".tar.zst", ".tzst", ".tar.gz", ".tgz", ".tar"} {
		if strings.HasSuffix(lowered, suffix) {
			return true
		}
	}
	return false
}

// extractArchive unpacks a tar bundle, decompressing by extension.
func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open bundle %s: %w", archivePath, err)
	}
	defer f.Close()

	var reader io.Reader = f
	lowered := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lowered, ".tar.zst") || strings.HasSuffix(lowered, ".tzst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to unzstd bundle: %w", err)
		}
		defer zr.Close()
		reader = zr
	case strings.HasSuffix(lowered, ".tar.gz") || strings.HasSuffix(lowered, ".tgz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to gunzip bundle: %w", err)
		}
		defer gr.Close()
		reader = gr
	}

	return extractFilesFromTar(reader, destDir)
}

// extractFilesFromTar writes regular tar entries under destDir. Entries
// that would escape destDir are rejected rather than skipped: a traversal
// attempt marks the whole bundle hostile.
func extractFilesFromTar(r io.Reader, destDir string) error {
	tarReader := tar.NewReader(r)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read bundle tar header: %w", err)
		}

		targetPath, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o700); err != nil {
				return fmt.Errorf("failed to create bundle dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o700); err != nil {
				return fmt.Errorf("failed to create bundle dir for %s: %w", header.Name, err)
			}
			out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("failed to create bundle file %s: %w", header.Name, err)
			}
			_, err = io.Copy(out, io.LimitReader(tarReader, maxExtractedFileSize))
			closeErr := out.Close()
			if err != nil {
				return fmt.Errorf("failed to extract bundle file %s: %w", header.Name, err)
			}
			if closeErr != nil {
				return fmt.Errorf("failed to close bundle file %s: %w", header.Name, closeErr)
			}
		default:
			// Symlinks, devices, and other special entries are dropped.
		}
	}
	return nil
}

// safeJoin joins name under destDir and rejects path traversal.
func safeJoin(destDir, name string) (string, error) {
	targetPath := filepath.Join(destDir, name)
	cleanDest := filepath.Clean(destDir)
	if targetPath != cleanDest && !strings.HasPrefix(targetPath, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("bundle entry %q escapes the extraction directory", name)
	}
	return targetPath, nil
}
