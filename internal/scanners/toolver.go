package scanners

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// versionPattern extracts the first semver-looking token from tool output.
var versionPattern = regexp.MustCompile(`v?\d+\.\d+(\.\d+)?`)

// CheckToolVersion verifies that the version reported by an external tool
// satisfies the configured minimum. An empty minimum disables the gate.
func CheckToolVersion(output, minimum string) error {
	if minimum == "" {
		return nil
	}

	token := versionPattern.FindString(output)
	if token == "" {
		return fmt.Errorf("could not find a version in tool output %q", strings.TrimSpace(output))
	}

	current, err := semver.NewVersion(strings.TrimPrefix(token, "v"))
	if err != nil {
		return fmt.Errorf("invalid tool version %q: %w", token, err)
	}
	constraint, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return fmt.Errorf("invalid minimum version %q: %w", minimum, err)
	}
	if !constraint.Check(current) {
		return fmt.Errorf("tool version %s is below the required minimum %s", current, minimum)
	}
	return nil
}
