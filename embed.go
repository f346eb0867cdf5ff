package main

import (
	"embed"
	"io/fs"
)

//go:embed docs/*.adoc
var docFiles embed.FS

// GetDocsFS returns the embedded API reference
func GetDocsFS() (fs.FS, error) {
	return fs.Sub(docFiles, "docs")
}
