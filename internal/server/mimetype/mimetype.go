// Package mimetype maps file name extensions to Content-Type values.
package mimetype

import (
	"path/filepath"
	"strings"
)

// Default is returned for unknown or missing extensions.
const Default = "application/octet-stream"

var types = map[string]string{
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"gif":  "image/gif",
	"gz":   "application/gzip",
	"htm":  "text/html",
	"html": "text/html",
	"ico":  "image/x-icon",
	"jar":  "application/java-archive",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"js":   "text/javascript",
	"json": "application/json",
	"md":   "text/markdown",
	"pdf":  "application/pdf",
	"png":  "image/png",
	"rtf":  "application/rtf",
	"txt":  "text/plain",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.ms-excel",
	"xml":  "application/xml",
	"zip":  "application/zip",
}

// Lookup returns the Content-Type for path based on its extension.
// Matching is case-sensitive.
func Lookup(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if t, ok := types[ext]; ok {
		return t
	}
	return Default
}
