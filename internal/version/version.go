// Package version holds build-time version information.
package version

// Version is the application version. Overridden at build time via
// -ldflags "-X github.com/aristath/quasar/internal/version.Version=v1.2.3".
var Version = "dev"
