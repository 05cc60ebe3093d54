package scan

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/policy"
	"github.com/modelguard/modelguard/internal/scanners"
	"github.com/modelguard/modelguard/internal/sql"
	"github.com/modelguard/modelguard/internal/tenant"
	"github.com/modelguard/modelguard/internal/validate"
	"github.com/modelguard/modelguard/pkg/types"
)

// fakeScanner returns a canned report and records invocations.
type fakeScanner struct {
	name    string
	payload string
	err     error
	calls   int
}

func (f *fakeScanner) Name() string { return f.name }

func (f *fakeScanner) Scan(_ context.Context, _ []validate.SafeTarget, _ scanners.Options) (*scanners.Report, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &scanners.Report{Scanner: f.name, Payload: []byte(f.payload)}, nil
}

// spyExecutor counts subprocess launches without running anything.
type spyExecutor struct {
	calls int
}

func (e *spyExecutor) ExecuteCommand(_ context.Context, _ string, _, _ []string, _ string) (string, string, error) {
	e.calls++
	return `{"issues":[]}`, "", nil
}

// fakeStore records manifest uploads.
type fakeStore struct {
	uploads int
}

func (s *fakeStore) Upload(_ context.Context, tenantID, scanID string, _ []byte) (string, error) {
	s.uploads++
	return "s3://manifests/" + tenantID + "/" + scanID, nil
}

type testHarness struct {
	cfg       *config.Config
	manager   *db.GormScanManager
	directory *tenant.StaticDirectory
	scanRoot  string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()
	pool := sql.NewShardPool(map[string]config.ShardConfig{
		"shard-1": {Driver: "sqlite", Path: filepath.Join(dir, "shard-1.db")},
	})

	directory := tenant.NewStaticDirectory(policy.DefaultThresholds())
	directory.AddTenant("tenant-a", "shard-1", tenant.EncryptionKey{Material: bytes.Repeat([]byte{0xA1}, 32), Version: 1})

	require.NoError(t, db.AutoMigrate(context.Background(), pool))
	manager, err := db.NewGormScanManager(pool, directory)
	require.NoError(t, err)

	scanRoot := t.TempDir()
	cfg := config.Default()
	cfg.AllowedRoots = []string{scanRoot}
	cfg.ScanTimeout = time.Minute
	cfg.Workers = 2
	cfg.WritableDir = t.TempDir()
	cfg.DefaultThresholds = policy.DefaultThresholds()

	return &testHarness{cfg: cfg, manager: manager, directory: directory, scanRoot: scanRoot}
}

func (h *testHarness) coordinator(t *testing.T, modelScanner scanners.Scanner,
	bundleScanners []scanners.Scanner, store ManifestStore) *Coordinator {
	t.Helper()
	if modelScanner == nil {
		modelScanner = &fakeScanner{name: "modelaudit", payload: `{"issues":[]}`}
	}
	if bundleScanners == nil {
		bundleScanners = []scanners.Scanner{&fakeScanner{name: "secrets", payload: `{"issues":[]}`}}
	}
	c, err := NewCoordinator(h.cfg, types.NewMockLogger(), h.manager, h.directory,
		modelScanner, bundleScanners, nil, store)
	require.NoError(t, err)
	return c
}

func (h *testHarness) writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.scanRoot, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestSubmitScanCleanArtifact tests that a clean artifact passes with all
// counts zero and no fault annotations.
func TestSubmitScanCleanArtifact(t *testing.T) {
	h := newHarness(t)
	artifact := h.writeArtifact(t, "model.safetensors", "weights")
	c := h.coordinator(t, &fakeScanner{name: "modelaudit", payload: `{"issues":[]}`}, nil, nil)

	outcome, err := c.SubmitScan(context.Background(), "tenant-a", model.KindModel, []string{artifact}, SubmitOptions{})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, outcome.Status)
	require.True(t, outcome.Passed)
	require.Zero(t, outcome.Counts.Total())
	require.Empty(t, outcome.FaultAnnotations)

	persisted, err := c.GetScan(context.Background(), "tenant-a", outcome.ScanID)
	require.NoError(t, err)
	require.True(t, persisted.Passed)
	require.Empty(t, persisted.Findings)
}

// TestSubmitScanCriticalFindingFails tests the unsafe-deserialization
// scenario: at least one CRITICAL finding and passed=false under default
// thresholds, with the severity-count invariant holding on the persisted row.
func TestSubmitScanCriticalFindingFails(t *testing.T) {
	h := newHarness(t)
	artifact := h.writeArtifact(t, "model.pkl", "pickle")
	payload := `{"issues":[
		{"severity":"critical","message":"REDUCE opcode invokes os.system","category":"deserialization"},
		{"severity":"info","message":"framework detected"}
	]}`
	c := h.coordinator(t, &fakeScanner{name: "modelaudit", payload: payload}, nil, nil)

	outcome, err := c.SubmitScan(context.Background(), "tenant-a", model.KindModel, []string{artifact}, SubmitOptions{})
	require.NoError(t, err)
	require.False(t, outcome.Passed)
	require.Equal(t, 1, outcome.Counts.Critical)

	persisted, err := c.GetScan(context.Background(), "tenant-a", outcome.ScanID)
	require.NoError(t, err)
	require.False(t, persisted.Passed)
	require.Equal(t, persisted.Counts.Total(), len(persisted.Findings))
}

// TestSubmitScanRejectedRemoteTargetSpawnsNothing tests that a disallowed
// remote reference is rejected before any subprocess is spawned and that
// nothing is persisted.
func TestSubmitScanRejectedRemoteTargetSpawnsNothing(t *testing.T) {
	h := newHarness(t)
	spy := &spyExecutor{}
	auditScanner, err := scanners.NewModelAuditScanner(types.NewMockLogger(), spy, "modelaudit", "")
	require.NoError(t, err)
	c := h.coordinator(t, auditScanner, nil, nil)

	_, err = c.SubmitScan(context.Background(), "tenant-a", model.KindModel,
		[]string{"http://example.com/artifact"}, SubmitOptions{})
	require.Error(t, err)
	require.True(t, validate.IsRemoteFetchNotAllowed(err))
	require.Contains(t, err.Error(), "huggingface.co")
	require.Zero(t, spy.calls)

	scans, err := c.ListScans(context.Background(), "tenant-a", db.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, scans)
}

// TestSubmitScanPartialSubScannerFailure tests that one failing sub-scanner
// does not abort its siblings: their findings persist and the failure is
// recorded as a fault annotation.
func TestSubmitScanPartialSubScannerFailure(t *testing.T) {
	h := newHarness(t)
	bundleDir := filepath.Join(h.scanRoot, "bundle")
	require.NoError(t, os.MkdirAll(bundleDir, 0o755))

	bundleScanners := []scanners.Scanner{
		&fakeScanner{name: "secrets", payload: `{"issues":[{"severity":"high","message":"token found"}]}`},
		&fakeScanner{name: "rules", payload: `{"issues":[{"severity":"medium","message":"auto approve"}]}`},
		&fakeScanner{name: "signatures", err: &scanners.ExecutionError{
			Scanner: "signatures", Kind: scanners.FaultTimeout, Err: context.DeadlineExceeded}},
	}
	c := h.coordinator(t, nil, bundleScanners, nil)

	outcome, err := c.SubmitScan(context.Background(), "tenant-a", model.KindBundle, []string{bundleDir}, SubmitOptions{})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, outcome.Status)
	require.Contains(t, outcome.FaultAnnotations, "signatures:timeout")
	require.Equal(t, 2, outcome.Counts.Total())

	persisted, err := c.GetScan(context.Background(), "tenant-a", outcome.ScanID)
	require.NoError(t, err)
	require.Len(t, persisted.Findings, 2)
	require.Contains(t, []string(persisted.FaultAnnotations), "signatures:timeout")
}

// TestSubmitScanUnparseableReport tests that an unreadable report yields
// zero findings plus a fault annotation, never a silently clean scan.
func TestSubmitScanUnparseableReport(t *testing.T) {
	h := newHarness(t)
	artifact := h.writeArtifact(t, "model.bin", "weights")
	c := h.coordinator(t, &fakeScanner{name: "modelaudit", payload: "Traceback (most recent call last):"}, nil, nil)

	outcome, err := c.SubmitScan(context.Background(), "tenant-a", model.KindModel, []string{artifact}, SubmitOptions{})
	require.NoError(t, err)
	require.Empty(t, outcome.Findings)
	require.Contains(t, outcome.FaultAnnotations, "modelaudit:parse")
}

// TestSubmitScanUnknownTenantFailsPersistence tests that persistence
// failure is terminal and surfaced to the caller.
func TestSubmitScanUnknownTenantFailsPersistence(t *testing.T) {
	h := newHarness(t)
	artifact := h.writeArtifact(t, "model.onnx", "weights")
	c := h.coordinator(t, nil, nil, nil)

	_, err := c.SubmitScan(context.Background(), "tenant-unknown", model.KindModel, []string{artifact}, SubmitOptions{})
	require.Error(t, err)
	require.True(t, errors.Is(err, db.ErrPersistence))
}

// TestSubmitScanBundleEndToEnd tests the real sub-scanner set against a
// bundle carrying a secret, an unsafe flag, and a pickle load.
func TestSubmitScanBundleEndToEnd(t *testing.T) {
	h := newHarness(t)
	bundleDir := filepath.Join(h.scanRoot, "bundle")
	require.NoError(t, os.MkdirAll(filepath.Join(bundleDir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "config", "agent.yaml"),
		[]byte("auto_approve: true\nhub_token: hf_abcdefghijklmnopqrstuvwxyz012345\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "loader.py"),
		[]byte("import pickle\nmodel = pickle.loads(blob)\n"), 0o600))

	logger := types.NewMockLogger()
	secretsScanner, err := scanners.NewSecretsScanner(logger)
	require.NoError(t, err)
	rulesScanner, err := scanners.NewRulesScanner(logger, nil)
	require.NoError(t, err)
	signaturesScanner, err := scanners.NewSignaturesScanner(logger, nil)
	require.NoError(t, err)
	toolProbe, err := scanners.NewToolProbeScanner(logger)
	require.NoError(t, err)

	c := h.coordinator(t, nil,
		[]scanners.Scanner{secretsScanner, rulesScanner, signaturesScanner, toolProbe}, nil)

	outcome, err := c.SubmitScan(context.Background(), "tenant-a", model.KindBundle, []string{bundleDir}, SubmitOptions{})
	require.NoError(t, err)
	require.Empty(t, outcome.FaultAnnotations)
	require.False(t, outcome.Passed)
	require.GreaterOrEqual(t, outcome.Counts.Critical, 2) // secret + pickle load
	require.GreaterOrEqual(t, outcome.Counts.High, 1)     // auto approve

	scannersSeen := map[string]bool{}
	for _, f := range outcome.Findings {
		scannersSeen[f.Scanner] = true
	}
	require.True(t, scannersSeen["secrets"])
	require.True(t, scannersSeen["rules"])
	require.True(t, scannersSeen["signatures"])
}

// TestSubmitScanManifest tests manifest emission and upload.
func TestSubmitScanManifest(t *testing.T) {
	h := newHarness(t)
	artifact := h.writeArtifact(t, "model.safetensors", "weights")
	payload := `{"issues":[],"components":[{"name":"torch","version":"2.3.0","type":"python"}]}`
	store := &fakeStore{}
	c := h.coordinator(t, &fakeScanner{name: "modelaudit", payload: payload}, nil, store)

	outcome, err := c.SubmitScan(context.Background(), "tenant-a", model.KindModel, []string{artifact},
		SubmitOptions{GenerateManifest: true})
	require.NoError(t, err)
	require.Equal(t, 1, store.uploads)
	require.Contains(t, outcome.ManifestRef, outcome.ScanID)

	persisted, err := c.GetScan(context.Background(), "tenant-a", outcome.ScanID)
	require.NoError(t, err)
	require.Equal(t, outcome.ManifestRef, persisted.ManifestRef)
}

// TestSubmitScanRemoteBundleWithoutFetcher tests that remote bundle refs
// are rejected when fetching is not enabled.
func TestSubmitScanRemoteBundleWithoutFetcher(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(t, nil, nil, nil)

	_, err := c.SubmitScan(context.Background(), "tenant-a", model.KindBundle,
		[]string{"oci://registry.example.com/bundles/agent:v1"}, SubmitOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not enabled")
}
