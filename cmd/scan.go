package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/db"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/executor"
	"github.com/modelguard/modelguard/internal/fetch"
	"github.com/modelguard/modelguard/internal/log"
	"github.com/modelguard/modelguard/internal/metrics"
	"github.com/modelguard/modelguard/internal/sbom"
	"github.com/modelguard/modelguard/internal/scanners"
	internalsql "github.com/modelguard/modelguard/internal/sql"
	"github.com/modelguard/modelguard/internal/tenant"
	"github.com/modelguard/modelguard/pkg/scan"
	"github.com/modelguard/modelguard/pkg/types"
)

// errFlagRetrieval is the error message for when a flag cannot be retrieved.
var errFlagRetrieval = errors.New("error getting flag")

// errRequiredFlagEmpty is the error message for a required flag that is empty.
var errRequiredFlagEmpty = errors.New("is required and cannot be empty")

// errPolicyGate marks a completed scan that failed the policy gate.
var errPolicyGate = errors.New("scan failed the policy gate")

// newScanCmd creates the scan subcommand.
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [targets...]",
		Short: "Submit artifacts for scanning and print the findings.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScan,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			requiredFlags := []string{"tenant", "kind"}
			for _, flag := range requiredFlags {
				value, err := cmd.Flags().GetString(flag)
				if err != nil {
					return fmt.Errorf("%w: %s: %w", errFlagRetrieval, flag, err)
				}
				if value == "" {
					return fmt.Errorf("%s %w", flag, errRequiredFlagEmpty)
				}
			}
			return nil
		},
	}

	scanCmd.Flags().StringP("tenant", "T", "", "Tenant identifier the scan runs under")
	scanCmd.Flags().StringP("kind", "k", "model", "Artifact kind: model|bundle")
	scanCmd.Flags().StringP("output-file", "f", "", "Output file for results")
	scanCmd.Flags().StringP("output-format", "t", "csv", "Output format for results. options: csv|json")
	scanCmd.Flags().Bool("manifest", false, "Emit a component manifest alongside the findings")
	scanCmd.Flags().Bool("strict", false, "Treat unknown artifact formats as findings")
	scanCmd.Flags().String("rules-file", "", "Path to an additional static rule file for bundle scans")
	return scanCmd
}

// runScan is the main entry point for the scan subcommand.
func runScan(cmd *cobra.Command, targets []string) error {
	ctx := metrics.WithMetrics(context.Background(), scan.MetricsNamespace)
	logger := log.NewLogger(ctx)

	configPath, _ := cmd.Flags().GetString("config")          //nolint:errcheck
	tenantID, _ := cmd.Flags().GetString("tenant")            //nolint:errcheck
	kindFlag, _ := cmd.Flags().GetString("kind")              //nolint:errcheck
	outputFile, _ := cmd.Flags().GetString("output-file")     //nolint:errcheck
	outputFormat, _ := cmd.Flags().GetString("output-format") //nolint:errcheck
	manifest, _ := cmd.Flags().GetBool("manifest")            //nolint:errcheck
	strict, _ := cmd.Flags().GetBool("strict")                //nolint:errcheck
	rulesFile, _ := cmd.Flags().GetString("rules-file")       //nolint:errcheck

	kind, err := parseKind(kindFlag)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	coordinator, err := buildCoordinator(logger, cfg, rulesFile)
	if err != nil {
		return err
	}

	outcome, err := coordinator.SubmitScan(ctx, tenantID, kind, targets, scan.SubmitOptions{
		GenerateManifest: manifest,
		Strict:           strict,
	})
	if err != nil {
		return fmt.Errorf("error scanning: %w", err)
	}

	persisted, err := coordinator.GetScan(ctx, tenantID, outcome.ScanID)
	if err != nil {
		return fmt.Errorf("error reading scan result: %w", err)
	}

	output := os.Stdout
	if outputFile != "" {
		output, err = os.OpenFile(outputFile, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
		if err != nil {
			return fmt.Errorf("error creating output file: %w", err)
		}
		defer output.Close()
	}

	switch outputFormat {
	case "csv":
		if err := scan.WriteFindingsToCSV(output, persisted, true); err != nil {
			return fmt.Errorf("failed to write to csv: %w", err)
		}
	case "json":
		if err := scan.WriteScanToJSON(output, persisted); err != nil {
			return fmt.Errorf("failed to write to json: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}

	if !outcome.Passed {
		return fmt.Errorf("%w: scan %s", errPolicyGate, outcome.ScanID)
	}
	return nil
}

func parseKind(flag string) (model.ScanKind, error) {
	switch flag {
	case "model":
		return model.KindModel, nil
	case "bundle":
		return model.KindBundle, nil
	default:
		return "", fmt.Errorf("unsupported kind %q: expected model or bundle", flag)
	}
}

// buildCoordinator assembles the engine from configuration.
func buildCoordinator(logger types.Logger, cfg *config.Config, rulesFile string) (*scan.Coordinator, error) {
	directory, err := directoryFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool := internalsql.NewShardPool(cfg.Shards)
	manager, err := db.NewGormScanManager(pool, directory)
	if err != nil {
		return nil, fmt.Errorf("error creating scan manager: %w", err)
	}

	commandExecutor := executor.NewCommandExecutor()
	modelScanner, err := scanners.NewModelAuditScanner(logger, commandExecutor, cfg.ModelAuditBin, cfg.MinToolVersion)
	if err != nil {
		return nil, fmt.Errorf("error creating model scanner: %w", err)
	}

	var rules []scanners.StaticRule
	if rulesFile != "" {
		loaded, err := scanners.LoadStaticRules(rulesFile)
		if err != nil {
			return nil, fmt.Errorf("error loading rules: %w", err)
		}
		rules = append(scanners.DefaultStaticRules(), loaded...)
	}
	secretsScanner, err := scanners.NewSecretsScanner(logger)
	if err != nil {
		return nil, fmt.Errorf("error creating secrets scanner: %w", err)
	}
	rulesScanner, err := scanners.NewRulesScanner(logger, rules)
	if err != nil {
		return nil, fmt.Errorf("error creating rules scanner: %w", err)
	}
	signaturesScanner, err := scanners.NewSignaturesScanner(logger, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating signatures scanner: %w", err)
	}
	toolProbe, err := scanners.NewToolProbeScanner(logger)
	if err != nil {
		return nil, fmt.Errorf("error creating tool probe: %w", err)
	}
	bundleScanners := []scanners.Scanner{secretsScanner, rulesScanner, signaturesScanner, toolProbe}

	var fetcher scan.BundleFetcher
	if len(cfg.RepoHosts) > 0 {
		f, err := fetch.NewFetcher(logger, cfg.RepoHosts, cfg.RepoToken)
		if err != nil {
			return nil, fmt.Errorf("error creating bundle fetcher: %w", err)
		}
		fetcher = f
	}

	var store scan.ManifestStore
	if cfg.ObjectStore.Endpoint != "" {
		s, err := sbom.NewStore(cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("error creating manifest store: %w", err)
		}
		store = s
	}

	return scan.NewCoordinator(cfg, logger, manager, directory, modelScanner, bundleScanners, fetcher, store)
}

// directoryFromConfig provisions the tenant directory from configuration
// and fronts it with a TTL cache.
func directoryFromConfig(cfg *config.Config) (tenant.Directory, error) {
	static := tenant.NewStaticDirectory(cfg.DefaultThresholds)
	for tenantID, tc := range cfg.Tenants {
		key, err := base64.StdEncoding.DecodeString(tc.Key)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: invalid encryption key: %w", tenantID, err)
		}
		static.AddTenant(tenantID, tc.Shard, tenant.EncryptionKey{Material: key, Version: tc.KeyVersion})
		if tc.Thresholds != nil {
			static.SetThresholds(tenantID, *tc.Thresholds)
		}
	}
	return tenant.NewCachingDirectory(static, 5*time.Minute), nil
}
