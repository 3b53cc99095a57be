package web

import "embed"

// Templates embeds the report templates rendered to PDF.
//
//go:embed templates/**/*.html
var Templates embed.FS
