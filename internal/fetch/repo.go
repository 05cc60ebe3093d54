package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"

	"github.com/modelguard/modelguard/pkg/types"
)

// RepoArchive describes a fetched repository snapshot.
type RepoArchive struct {
	Host     string
	Owner    string
	Repo     string
	Revision string
	Path     string // local path of the downloaded archive
}

// FetchRepoArchive downloads a repository snapshot archive from an
// allowlisted host into destDir. The client is injectable for tests; when
// nil, an oauth2 client built from the token is used (or a plain client
// when no token is configured).
func FetchRepoArchive(ctx context.Context, client types.HTTPClientInterface, token string,
	rawURL string, allowedHosts []string, destDir string) (*RepoArchive, error) {
	host, owner, repo, err := splitRepoURL(rawURL, allowedHosts)
	if err != nil {
		return nil, err
	}

	if client == nil {
		if token != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			client = oauth2.NewClient(ctx, ts)
		} else {
			client = http.DefaultClient
		}
	}

	revision := "main"
	archiveURL := fmt.Sprintf("https://%s/%s/%s/archive/refs/heads/%s.tar.gz", host, owner, repo, revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching repository archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d fetching %s", resp.StatusCode, archiveURL)
	}

	archivePath := filepath.Join(destDir, fmt.Sprintf("%s-%s-%s.tar.gz", owner, repo, revision))
	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	_, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("failed to download archive: %w", copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close archive file: %w", closeErr)
	}

	return &RepoArchive{
		Host:     host,
		Owner:    owner,
		Repo:     repo,
		Revision: revision,
		Path:     archivePath,
	}, nil
}

// splitRepoURL validates an https repository URL against the allowlist and
// returns its host, owner, and repository name.
func splitRepoURL(rawURL string, allowedHosts []string) (host, owner, repo string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid repository URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "https" {
		return "", "", "", fmt.Errorf("repository URL %q must use https", rawURL)
	}

	allowed := false
	for _, h := range allowedHosts {
		if strings.EqualFold(parsed.Hostname(), h) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", "", "", fmt.Errorf("%w: %q (allowed: %s)",
			errRepoHostNotAllowed, parsed.Hostname(), strings.Join(allowedHosts, ", "))
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", "", fmt.Errorf("repository URL %q must carry owner and repository segments", rawURL)
	}
	return parsed.Hostname(), segments[0], segments[1], nil
}
