// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/Norgate-AV/jsbundle/internal/version.Version=v1.2.0"
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String formats the build metadata for --version
func String() string {
	return Version + " (" + Commit + ") " + BuildTime
}
