package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/pkg/types"
)

// mockHTTPClient returns a canned response and records the request.
type mockHTTPClient struct {
	status int
	body   string
	req    *http.Request
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.req = req
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

// TestParseOCIRef tests allowlist enforcement on oci:// references.
func TestParseOCIRef(t *testing.T) {
	allowed := []string{"registry.example.com"}

	ref, err := ParseOCIRef("oci://registry.example.com/bundles/agent:v1", allowed)
	require.NoError(t, err)
	require.Equal(t, "registry.example.com", ref.Context().RegistryStr())
	require.Equal(t, "v1", ref.Identifier())

	_, err = ParseOCIRef("oci://evil.example.net/bundles/agent:v1", allowed)
	require.Error(t, err)
	require.True(t, IsRepoHostNotAllowed(err))
	require.Contains(t, err.Error(), "registry.example.com")

	_, err = ParseOCIRef("oci://not a ref", allowed)
	require.Error(t, err)
}

// TestSplitRepoURL tests repository URL validation.
func TestSplitRepoURL(t *testing.T) {
	allowed := []string{"github.com"}

	host, owner, repo, err := splitRepoURL("https://github.com/acme/agent-bundle", allowed)
	require.NoError(t, err)
	require.Equal(t, "github.com", host)
	require.Equal(t, "acme", owner)
	require.Equal(t, "agent-bundle", repo)

	_, _, _, err = splitRepoURL("http://github.com/acme/agent-bundle", allowed)
	require.Error(t, err)

	_, _, _, err = splitRepoURL("https://gitlab.example.com/acme/agent-bundle", allowed)
	require.True(t, IsRepoHostNotAllowed(err))

	_, _, _, err = splitRepoURL("https://github.com/acme", allowed)
	require.Error(t, err)
}

// TestFetchRepoArchive tests the download path with an injected client.
func TestFetchRepoArchive(t *testing.T) {
	client := &mockHTTPClient{status: http.StatusOK, body: "archive-bytes"}
	destDir := t.TempDir()

	archive, err := FetchRepoArchive(context.Background(), client, "tok-123",
		"https://github.com/acme/agent-bundle", []string{"github.com"}, destDir)
	require.NoError(t, err)
	require.Equal(t, "acme", archive.Owner)
	require.Equal(t, "agent-bundle", archive.Repo)

	data, err := os.ReadFile(archive.Path)
	require.NoError(t, err)
	require.Equal(t, "archive-bytes", string(data))

	require.Equal(t, "Bearer tok-123", client.req.Header.Get("Authorization"))
	require.Contains(t, client.req.URL.String(), "github.com/acme/agent-bundle/archive")
}

// TestFetchRepoArchiveDisallowedHostSendsNothing tests that a rejected
// host never reaches the HTTP client.
func TestFetchRepoArchiveDisallowedHostSendsNothing(t *testing.T) {
	client := &mockHTTPClient{status: http.StatusOK}

	_, err := FetchRepoArchive(context.Background(), client, "",
		"https://evil.example.net/acme/agent-bundle", []string{"github.com"}, t.TempDir())
	require.True(t, IsRepoHostNotAllowed(err))
	require.Nil(t, client.req)
}

// TestFetchRepoArchiveNon200 tests the status check.
func TestFetchRepoArchiveNon200(t *testing.T) {
	client := &mockHTTPClient{status: http.StatusNotFound}

	_, err := FetchRepoArchive(context.Background(), client, "",
		"https://github.com/acme/missing", []string{"github.com"}, t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

var _ types.HTTPClientInterface = (*mockHTTPClient)(nil)
