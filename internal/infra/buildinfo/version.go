package buildinfo

import "runtime"

// Build-time variables (set via ldflags).
var (
	// Version is the semantic version.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"

	// GoVersion is the Go version used to build. Empty means runtime.Version().
	GoVersion = ""
)

// Info contains build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information.
func Get() Info {
	goVersion := GoVersion
	if goVersion == "" {
		goVersion = runtime.Version()
	}
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: goVersion,
	}
}

// String returns a one-line version banner, as printed by --version.
func String() string {
	info := Get()
	return info.Version + " (commit " + info.Commit + ", built " + info.BuildTime + ", " + info.GoVersion + ")"
}

// LogAttrs returns the build information as slog key/value pairs.
func LogAttrs() []any {
	info := Get()
	return []any{
		"version", info.Version,
		"commit", info.Commit,
		"build_time", info.BuildTime,
		"go_version", info.GoVersion,
	}
}
