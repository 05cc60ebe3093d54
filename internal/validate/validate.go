// Package validate inspects requested scan targets and rejects unsafe ones
// before any external process is spawned. Validation is a pure function over
// the targets and the injected allowlist configuration: no network or
// subprocess I/O happens here.
package validate

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/modelguard/modelguard/internal/config"
)

// errPathNotAllowed is returned when a local path escapes every allowed root.
var errPathNotAllowed = errors.New("path is not under an allowed root")

// errURLFormatInvalid is returned when an allowlisted reference does not have
// the required owner/artifact shape.
var errURLFormatInvalid = errors.New("remote reference format is invalid")

// errRemoteFetchNotAllowed is returned for schemes and hosts outside the allowlist.
var errRemoteFetchNotAllowed = errors.New("remote fetch is not allowed")

// IsPathNotAllowed reports whether err is a local-path rejection.
func IsPathNotAllowed(err error) bool { return errors.Is(err, errPathNotAllowed) }

// IsURLFormatInvalid reports whether err is a malformed-reference rejection.
func IsURLFormatInvalid(err error) bool { return errors.Is(err, errURLFormatInvalid) }

// IsRemoteFetchNotAllowed reports whether err is an allowlist rejection.
func IsRemoteFetchNotAllowed(err error) bool { return errors.Is(err, errRemoteFetchNotAllowed) }

// TargetKind distinguishes local paths from remote references.
type TargetKind string

const (
	KindLocal  TargetKind = "local"
	KindRemote TargetKind = "remote"
)

// SafeTarget is a validated scan target.
type SafeTarget struct {
	// Raw is the target string as submitted.
	Raw string
	// Resolved is the cleaned absolute path for local targets, or the
	// canonical URL for remote targets (alias schemes rewritten).
	Resolved string
	// Kind is local or remote.
	Kind TargetKind
}

// Validate checks every target against the allowlist configuration and
// returns the validated set. The first rejection fails the whole request:
// nothing is scanned when any target is unsafe.
func Validate(cfg *config.Config, targets []string) ([]SafeTarget, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets provided", errURLFormatInvalid)
	}

	safe := make([]SafeTarget, 0, len(targets))
	for _, target := range targets {
		st, err := validateOne(cfg, target)
		if err != nil {
			return nil, err
		}
		safe = append(safe, st)
	}
	return safe, nil
}

func validateOne(cfg *config.Config, target string) (SafeTarget, error) {
	if target == "" {
		return SafeTarget{}, fmt.Errorf("%w: empty target", errURLFormatInvalid)
	}
	if strings.Contains(target, "://") {
		return validateRemote(cfg, target)
	}
	return validateLocal(cfg, target)
}

func validateLocal(cfg *config.Config, target string) (SafeTarget, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return SafeTarget{}, fmt.Errorf("%w: %s", errPathNotAllowed, target)
	}
	abs = filepath.Clean(abs)

	for _, root := range cfg.AllowedRoots {
		cleanRoot := filepath.Clean(root)
		if abs == cleanRoot || strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
			return SafeTarget{Raw: target, Resolved: abs, Kind: KindLocal}, nil
		}
	}
	return SafeTarget{}, fmt.Errorf("%w: %s resolves outside the allowed roots", errPathNotAllowed, abs)
}

func validateRemote(cfg *config.Config, target string) (SafeTarget, error) {
	u, err := url.Parse(target)
	if err != nil {
		return SafeTarget{}, fmt.Errorf("%w: %s", errURLFormatInvalid, target)
	}

	// A shorthand scheme like hf://owner/artifact is equivalent to the
	// canonical URL form after rewriting.
	if host, ok := cfg.Aliases[u.Scheme]; ok {
		rewritten := &url.URL{
			Scheme: "https",
			Host:   host,
			Path:   "/" + strings.TrimPrefix(u.Host+u.Path, "/"),
		}
		u = rewritten
	}

	if u.Scheme != "https" {
		return SafeTarget{}, fmt.Errorf("%w: scheme %q is not permitted; only https references to %s are accepted",
			errRemoteFetchNotAllowed, u.Scheme, strings.Join(cfg.ModelHosts, ", "))
	}

	allowed := false
	for _, host := range cfg.ModelHosts {
		if strings.EqualFold(u.Host, host) {
			allowed = true
			break
		}
	}
	if !allowed {
		return SafeTarget{}, fmt.Errorf("%w: host %q is not in the allowlist; allowed domains: %s",
			errRemoteFetchNotAllowed, u.Host, strings.Join(cfg.ModelHosts, ", "))
	}

	// The path must look like owner/artifact: at least two non-empty segments.
	segments := nonEmptySegments(u.Path)
	if len(segments) < 2 {
		return SafeTarget{}, fmt.Errorf("%w: %s must reference owner/artifact", errURLFormatInvalid, target)
	}

	return SafeTarget{Raw: target, Resolved: u.String(), Kind: KindRemote}, nil
}

func nonEmptySegments(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
