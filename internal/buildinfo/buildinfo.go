// Package buildinfo carries version metadata set at build time via ldflags:
//
//	-X github.com/modoterra/hearth/internal/buildinfo.Version=v0.3.0
package buildinfo

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the metadata for version commands.
func String(binary string) string {
	return binary + " " + Version + " (" + Commit + ") built " + Date
}
