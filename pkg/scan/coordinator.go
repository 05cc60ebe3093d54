// Package scan orchestrates the scan lifecycle: validation, adapter
// fan-out, normalization, policy evaluation, and tenant-isolated
// persistence.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modelguard/modelguard/internal/bundle"
	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/metrics"
	"github.com/modelguard/modelguard/internal/normalize"
	"github.com/modelguard/modelguard/internal/policy"
	"github.com/modelguard/modelguard/internal/sbom"
	"github.com/modelguard/modelguard/internal/scanners"
	"github.com/modelguard/modelguard/internal/severity"
	"github.com/modelguard/modelguard/internal/tenant"
	"github.com/modelguard/modelguard/internal/validate"
	"github.com/modelguard/modelguard/pkg/types"
)

// MetricsNamespace is the prometheus namespace for engine metrics.
const MetricsNamespace = "modelguard"

// State is one step of the scan lifecycle.
type State string

const (
	StateIntake      State = "intake"
	StateValidating  State = "validating"
	StateRunning     State = "running"
	StateNormalizing State = "normalizing"
	StateEvaluating  State = "evaluating"
	StatePersisting  State = "persisting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// SubmitOptions configure one scan submission.
type SubmitOptions struct {
	// GenerateManifest asks for a component manifest alongside findings.
	GenerateManifest bool
	// Strict passes strict mode through to the external tool.
	Strict bool
}

// ScanOutcome is the synchronous result of a submission.
type ScanOutcome struct {
	ScanID           string
	Status           model.ScanStatus
	Passed           bool
	Counts           policy.Counts
	FaultAnnotations []string
	Findings         []model.Finding
	ManifestRef      string
}

// BundleFetcher retrieves a remote bundle reference to a local path. The
// returned path may be a directory or an archive; cleanup is never nil.
type BundleFetcher interface {
	Fetch(ctx context.Context, ref string) (string, func(), error)
}

// ManifestStore uploads emitted component manifests.
type ManifestStore interface {
	Upload(ctx context.Context, tenantID, scanID string, manifest []byte) (string, error)
}

// Coordinator drives the scan state machine. Terminal failure is reserved
// for validation rejection and persistence failure; adapter faults degrade
// to annotations on a completed scan.
type Coordinator struct {
	cfg            *config.Config
	logger         types.Logger
	manager        db.ScanManager
	directory      tenant.Directory
	modelScanner   scanners.Scanner
	bundleScanners []scanners.Scanner
	fetcher        BundleFetcher
	store          ManifestStore
}

// NewCoordinator creates a Coordinator. The fetcher and store are optional:
// without a fetcher remote bundle references are rejected, and without a
// store emitted manifests are discarded after the scan.
func NewCoordinator(cfg *config.Config, logger types.Logger, manager db.ScanManager,
	directory tenant.Directory, modelScanner scanners.Scanner, bundleScanners []scanners.Scanner,
	fetcher BundleFetcher, store ManifestStore) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory cannot be nil")
	}
	if modelScanner == nil {
		return nil, fmt.Errorf("modelScanner cannot be nil")
	}
	if len(bundleScanners) == 0 {
		return nil, fmt.Errorf("bundleScanners cannot be empty")
	}
	return &Coordinator{
		cfg:            cfg,
		logger:         logger,
		manager:        manager,
		directory:      directory,
		modelScanner:   modelScanner,
		bundleScanners: bundleScanners,
		fetcher:        fetcher,
		store:          store,
	}, nil
}

// scannerRun is one adapter's contribution to a scan.
type scannerRun struct {
	report *scanners.Report
	fault  string
}

// SubmitScan runs the full state machine synchronously and returns the
// persisted outcome. Validation rejections return before any external
// process is spawned and persist nothing.
func (c *Coordinator) SubmitScan(ctx context.Context, tenantID string, kind model.ScanKind,
	targets []string, opts SubmitOptions) (*ScanOutcome, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID cannot be empty")
	}

	scanID := uuid.NewString()
	start := time.Now()
	collector := c.registerMetrics(ctx)
	c.logger.Info("scan submitted",
		zap.String("scan_id", scanID),
		zap.String("tenant_id", tenantID),
		zap.String("kind", string(kind)),
		zap.Int("targets", len(targets)))

	c.step(scanID, StateValidating)
	safe, cleanup, err := c.validateTargets(ctx, kind, targets)
	if err != nil {
		c.count(ctx, collector, "scans_total", string(kind), string(StateFailed))
		c.logger.Warn("scan rejected during validation",
			zap.String("scan_id", scanID), zap.Error(err))
		return nil, err
	}
	defer cleanup()

	c.step(scanID, StateRunning)
	runs := c.runScanners(ctx, kind, scanID, safe, opts)

	c.step(scanID, StateNormalizing)
	var findings []model.Finding
	var annotations []string
	var modelReport *scanners.Report
	for _, run := range runs {
		if run.fault != "" {
			annotations = append(annotations, run.fault)
			c.count(ctx, collector, "scanner_faults_total", faultScannerName(run))
		}
		if run.report == nil {
			continue
		}
		if run.report.Scanner == c.modelScanner.Name() {
			modelReport = run.report
		}
		normalized, err := normalize.Normalize(run.report, scanID, tenantID)
		if err != nil {
			if errors.Is(err, normalize.ErrParse) {
				// An unreadable report must never pass as a clean scan.
				annotations = append(annotations, run.report.Scanner+":"+string(scanners.FaultParse))
				c.count(ctx, collector, "scanner_faults_total", run.report.Scanner)
				continue
			}
			annotations = append(annotations, run.report.Scanner+":"+string(scanners.FaultInternal))
			continue
		}
		findings = append(findings, normalized...)
	}

	c.step(scanID, StateEvaluating)
	thresholds, err := c.directory.ThresholdsFor(ctx, tenantID)
	if err != nil {
		thresholds = c.cfg.DefaultThresholds
		c.logger.Warn("falling back to default thresholds",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
	severities := make([]severity.Severity, len(findings))
	for i, f := range findings {
		severities[i] = f.Severity
	}
	outcome := policy.Evaluate(severities, thresholds)

	manifestRef := ""
	if opts.GenerateManifest {
		manifestRef = c.emitManifest(ctx, tenantID, scanID, targets, modelReport, &annotations)
	}

	c.step(scanID, StatePersisting)
	scan := &model.Scan{
		ID:               scanID,
		TenantID:         tenantID,
		Kind:             kind,
		Targets:          model.StringList(targets),
		Status:           model.StatusCompleted,
		Counts:           outcome.Counts,
		Passed:           outcome.Passed,
		FaultAnnotations: model.StringList(annotations),
		ManifestRef:      manifestRef,
	}
	if err := c.manager.CommitScan(ctx, scan, findings); err != nil {
		c.count(ctx, collector, "scans_total", string(kind), string(StateFailed))
		c.logger.Error("scan persistence failed",
			zap.String("scan_id", scanID), zap.Error(err))
		return nil, err
	}

	c.step(scanID, StateCompleted)
	c.count(ctx, collector, "scans_total", string(kind), string(StateCompleted))
	c.observe(ctx, collector, "scan_duration_seconds", time.Since(start).Seconds(), string(kind))
	c.logger.Info("scan completed",
		zap.String("scan_id", scanID),
		zap.Bool("passed", outcome.Passed),
		zap.Int("findings", len(findings)),
		zap.Strings("fault_annotations", annotations))

	return &ScanOutcome{
		ScanID:           scanID,
		Status:           model.StatusCompleted,
		Passed:           outcome.Passed,
		Counts:           outcome.Counts,
		FaultAnnotations: annotations,
		Findings:         findings,
		ManifestRef:      manifestRef,
	}, nil
}

// GetScan returns a persisted scan for the tenant.
func (c *Coordinator) GetScan(ctx context.Context, tenantID, scanID string) (*model.Scan, error) {
	return c.manager.GetScan(ctx, tenantID, scanID)
}

// ListScans returns the tenant's scans.
func (c *Coordinator) ListScans(ctx context.Context, tenantID string, filter db.ListFilter) ([]model.Scan, error) {
	return c.manager.ListScans(ctx, tenantID, filter)
}

// validateTargets validates submitted targets per artifact class. Bundle
// targets are additionally resolved to scannable directories, which may
// involve fetching from an allowlisted repository host and extracting.
func (c *Coordinator) validateTargets(ctx context.Context, kind model.ScanKind,
	targets []string) ([]validate.SafeTarget, func(), error) {
	noop := func() {}
	if kind != model.KindBundle {
		safe, err := validate.Validate(c.cfg, targets)
		return safe, noop, err
	}

	var cleanups []func()
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	var safe []validate.SafeTarget
	for _, target := range targets {
		local, targetCleanup, err := c.resolveBundleTarget(ctx, target)
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		cleanups = append(cleanups, targetCleanup)
		safe = append(safe, validate.SafeTarget{Raw: target, Resolved: local, Kind: validate.KindLocal})
	}
	return safe, cleanup, nil
}

func (c *Coordinator) resolveBundleTarget(ctx context.Context, target string) (string, func(), error) {
	noop := func() {}

	if isRemoteRef(target) {
		if c.fetcher == nil {
			return "", noop, fmt.Errorf("remote bundle references are not enabled: %s", target)
		}
		fetched, fetchCleanup, err := c.fetcher.Fetch(ctx, target)
		if err != nil {
			return "", noop, err
		}
		root, resolveCleanup, err := bundle.Resolve(c.logger, fetched)
		if err != nil {
			fetchCleanup()
			return "", noop, err
		}
		return root, func() { resolveCleanup(); fetchCleanup() }, nil
	}

	safe, err := validate.Validate(c.cfg, []string{target})
	if err != nil {
		return "", noop, err
	}
	root, cleanup, err := bundle.Resolve(c.logger, safe[0].Resolved)
	return root, cleanup, err
}

// runScanners fans the validated targets out to the scanner set for the
// artifact class. Sub-scanners run concurrently under a bounded group; a
// fault in one never aborts its siblings.
func (c *Coordinator) runScanners(ctx context.Context, kind model.ScanKind, scanID string,
	targets []validate.SafeTarget, opts SubmitOptions) []scannerRun {
	scannerSet := c.bundleScanners
	if kind != model.KindBundle {
		scannerSet = []scanners.Scanner{c.modelScanner}
	}

	scanOpts := scanners.Options{
		GenerateManifest: opts.GenerateManifest,
		Strict:           opts.Strict,
		Timeout:          c.cfg.ScanTimeout,
		WritableDir:      c.provisionWritableDir(scanID),
	}

	runs := make([]scannerRun, 0, len(scannerSet))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.Workers > 0 {
		g.SetLimit(c.cfg.Workers)
	}
	for _, s := range scannerSet {
		g.Go(func() error {
			report, err := s.Scan(gctx, targets, scanOpts)

			run := scannerRun{report: report}
			if err != nil {
				var execErr *scanners.ExecutionError
				if errors.As(err, &execErr) {
					run.fault = execErr.Annotation()
				} else {
					run.fault = s.Name() + ":" + string(scanners.FaultInternal)
				}
				c.logger.Warn("scanner fault",
					zap.String("scan_id", scanID),
					zap.String("scanner", s.Name()),
					zap.Error(err))
			}
			mu.Lock()
			runs = append(runs, run)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // per-scanner faults are captured as annotations

	return runs
}

// emitManifest derives a component manifest and, when a store is wired,
// uploads it. Failures downgrade to a fault annotation.
func (c *Coordinator) emitManifest(ctx context.Context, tenantID, scanID string,
	targets []string, report *scanners.Report, annotations *[]string) string {
	artifact := ""
	if len(targets) > 0 {
		artifact = targets[0]
	}
	manifest, err := sbom.Emit(artifact, report)
	if err != nil {
		c.logger.Warn("manifest emission failed",
			zap.String("scan_id", scanID), zap.Error(err))
		*annotations = append(*annotations, "manifest:unavailable")
		return ""
	}
	if c.store == nil {
		return ""
	}
	ref, err := c.store.Upload(ctx, tenantID, scanID, manifest)
	if err != nil {
		c.logger.Warn("manifest upload failed",
			zap.String("scan_id", scanID), zap.Error(err))
		*annotations = append(*annotations, "manifest:upload-failed")
		return ""
	}
	return ref
}

// provisionWritableDir creates a per-scan scratch directory so concurrent
// scans never share report files or caches.
func (c *Coordinator) provisionWritableDir(scanID string) string {
	base := c.cfg.WritableDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, scanID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		c.logger.Warn("failed to provision scan scratch dir",
			zap.String("dir", dir), zap.Error(err))
		return base
	}
	return dir
}

// step records a state transition.
func (c *Coordinator) step(scanID string, state State) {
	c.logger.Debug("scan state", zap.String("scan_id", scanID), zap.String("state", string(state)))
}

func (c *Coordinator) registerMetrics(ctx context.Context) metrics.Collector {
	collector := metrics.FromContext(ctx, MetricsNamespace)
	if _, err := collector.RegisterCounter(ctx, "scans_total", "kind", "status"); err != nil {
		c.logger.Warn("failed to register scans_total", zap.Error(err))
	}
	if _, err := collector.RegisterCounter(ctx, "scanner_faults_total", "scanner"); err != nil {
		c.logger.Warn("failed to register scanner_faults_total", zap.Error(err))
	}
	if _, err := collector.RegisterHistogram(ctx, "scan_duration_seconds", "kind"); err != nil {
		c.logger.Warn("failed to register scan_duration_seconds", zap.Error(err))
	}
	return collector
}

func (c *Coordinator) count(ctx context.Context, collector metrics.Collector, name string, labelValues ...string) {
	if err := collector.AddCounter(ctx, name, 1, labelValues...); err != nil {
		c.logger.Warn("failed to update counter", zap.String("name", name), zap.Error(err))
	}
}

func (c *Coordinator) observe(ctx context.Context, collector metrics.Collector, name string, value float64, labelValues ...string) {
	if err := collector.ObserveHistogram(ctx, name, value, labelValues...); err != nil {
		c.logger.Warn("failed to update histogram", zap.String("name", name), zap.Error(err))
	}
}

func isRemoteRef(target string) bool {
	return strings.Contains(target, "://")
}

// faultScannerName extracts the scanner label from a fault annotation.
func faultScannerName(run scannerRun) string {
	if run.report != nil {
		return run.report.Scanner
	}
	name, _, _ := strings.Cut(run.fault, ":")
	return name
}
