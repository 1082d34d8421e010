// Package version exposes the release version baked into the binary.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get reports the bureau release version.
func Get() string {
	return strings.TrimSpace(raw)
}
