package fetch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/modelguard/modelguard/pkg/types"
)

// Fetcher retrieves remote bundle references, dispatching oci:// refs to
// the registry puller and https:// refs to the repository archive path.
type Fetcher struct {
	logger       types.Logger
	allowedHosts []string
	token        string
	puller       *OCIPuller
}

// NewFetcher creates a Fetcher over the allowed repository hosts.
func NewFetcher(logger types.Logger, allowedHosts []string, token string) (*Fetcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(allowedHosts) == 0 {
		return nil, fmt.Errorf("allowedHosts cannot be empty")
	}
	puller, err := NewOCIPuller(logger, allowedHosts, token)
	if err != nil {
		return nil, err
	}
	return &Fetcher{logger: logger, allowedHosts: allowedHosts, token: token, puller: puller}, nil
}

// Fetch retrieves the reference into a temporary location and returns the
// local path: a directory for OCI artifacts, an archive file for
// repository snapshots. The cleanup removes everything fetched.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}

	tmpDir, err := os.MkdirTemp("", "modelguard-fetch-*")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create fetch dir: %w", err)
	}
	cleanup := func() {
		if removeErr := os.RemoveAll(tmpDir); removeErr != nil {
			f.logger.Warn("failed to clean up fetched bundle",
				zap.String("dir", tmpDir), zap.Error(removeErr))
		}
	}

	if strings.HasPrefix(ref, "oci://") {
		if _, err := f.puller.Pull(ctx, ref, tmpDir); err != nil {
			cleanup()
			return "", noop, err
		}
		return tmpDir, cleanup, nil
	}

	archive, err := FetchRepoArchive(ctx, nil, f.token, ref, f.allowedHosts, tmpDir)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	return archive.Path, cleanup, nil
}
