// Package embedded provides the embedded prompt template files.
package embedded

import "embed"

//go:embed prompt.md revision-prompt.md
var FS embed.FS
