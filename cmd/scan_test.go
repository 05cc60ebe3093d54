package cmd

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/modelguard/modelguard/internal/config"
	"github.com/modelguard/modelguard/internal/data/model"
	"github.com/modelguard/modelguard/internal/policy"
)

// TestNewRootCmd tests the newRootCmd function.
func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()

	if diff := cmp.Diff("modelguard", cmd.Use); diff != "" {
		t.Errorf("cmd.Use mismatch (-want +got):\n%s", diff)
	}
	if cmd.PersistentFlags().Lookup("config") == nil {
		t.Errorf("flag config should be defined")
	}

	scanCmd, _, err := cmd.Find([]string{"scan"})
	if err != nil {
		t.Fatalf("scan subcommand should be registered: %v", err)
	}
	flags := []string{"tenant", "kind", "output-file", "output-format", "manifest", "strict", "rules-file"}
	for _, flag := range flags {
		if scanCmd.Flags().Lookup(flag) == nil {
			t.Errorf("flag %s should be defined", flag)
		}
	}

	if _, _, err := cmd.Find([]string{"migrate"}); err != nil {
		t.Errorf("migrate subcommand should be registered: %v", err)
	}
}

// TestScanPreRunE_MissingTenant tests the scan preRunE with the tenant flag empty.
func TestScanPreRunE_MissingTenant(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"scan", "some-target", "--kind", "model"})

	err := cmd.Execute()
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("tenant is required and cannot be empty", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

// TestScanPreRunE_InvalidFlag tests the scan preRunE with an invalid flag.
func TestScanPreRunE_InvalidFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"scan", "some-target", "--invalid-flag", "value"})

	err := cmd.Execute()
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("unknown flag: --invalid-flag", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

func TestParseKind(t *testing.T) {
	kind, err := parseKind("model")
	if err != nil {
		t.Fatalf("parseKind(model) returned error: %v", err)
	}
	if diff := cmp.Diff(model.KindModel, kind); diff != "" {
		t.Errorf("kind mismatch (-want +got):\n%s", diff)
	}

	kind, err = parseKind("bundle")
	if err != nil {
		t.Fatalf("parseKind(bundle) returned error: %v", err)
	}
	if diff := cmp.Diff(model.KindBundle, kind); diff != "" {
		t.Errorf("kind mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseKind("container"); err == nil {
		t.Errorf("expected an error for unsupported kind but got nil")
	}
}

func TestDirectoryFromConfig(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cfg := &config.Config{
		DefaultThresholds: policy.DefaultThresholds(),
		Tenants: map[string]config.TenantConfig{
			"tenant-a": {Shard: "shard-1", Key: key, KeyVersion: 2},
		},
	}

	directory, err := directoryFromConfig(cfg)
	if err != nil {
		t.Fatalf("directoryFromConfig returned error: %v", err)
	}

	ctx := context.Background()
	shard, err := directory.ShardFor(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("ShardFor returned error: %v", err)
	}
	if diff := cmp.Diff("shard-1", shard); diff != "" {
		t.Errorf("shard mismatch (-want +got):\n%s", diff)
	}

	resolved, err := directory.KeyFor(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("KeyFor returned error: %v", err)
	}
	if diff := cmp.Diff(uint8(2), resolved.Version); diff != "" {
		t.Errorf("key version mismatch (-want +got):\n%s", diff)
	}

	if _, err := directory.ShardFor(ctx, "tenant-b"); err == nil {
		t.Errorf("expected an error for an unknown tenant but got nil")
	}
}

func TestDirectoryFromConfig_InvalidKey(t *testing.T) {
	cfg := &config.Config{
		Tenants: map[string]config.TenantConfig{
			"tenant-a": {Shard: "shard-1", Key: "not base64!"},
		},
	}

	if _, err := directoryFromConfig(cfg); err == nil {
		t.Errorf("expected an error for an invalid key but got nil")
	}
}
