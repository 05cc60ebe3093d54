// Package version carries build identity injected at link time.
package version

import "runtime/debug"

// Version can be set via:
// -ldflags="-X 'github.com/modelguard/modelguard/pkg/version.Version=$TAG'"
var Version string

// CommitSHA can be set via:
// -ldflags="-X 'github.com/modelguard/modelguard/pkg/version.CommitSHA=$SHA'"
var CommitSHA string

func init() {
	if Version == "" {
		i, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		Version = i.Main.Version
	}
}
