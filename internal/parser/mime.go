package parser

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	MIMEPlain    = "text/plain"
	MIMEMarkdown = "text/markdown"
	MIMEHTML     = "text/html"
	MIMEXML      = "text/xml"
	MIMEJSON     = "application/json"
	MIMEPDF      = "application/pdf"
	MIMEDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEXLSM     = "application/vnd.ms-excel.sheet.macroenabled.12"
	MIMEPPTX     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MIMEBinary   = "application/octet-stream"
)

var extensionTypes = map[string]string{
	".txt":      MIMEPlain,
	".md":       MIMEMarkdown,
	".markdown": MIMEMarkdown,
	".html":     MIMEHTML,
	".htm":      MIMEHTML,
	".json":     MIMEJSON,
	".js":       MIMEPlain,
	".ts":       MIMEPlain,
	".css":      MIMEPlain,
	".xml":      MIMEXML,
	".pdf":      MIMEPDF,
	".docx":     MIMEDOCX,
	".xlsx":     MIMEXLSX,
	".xlsm":     MIMEXLSM,
	".pptx":     MIMEPPTX,
}

// MIMEFromFilename maps a file extension to its content type.
// Unknown extensions yield application/octet-stream.
func MIMEFromFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	return MIMEBinary
}

// SniffMIME detects the content type from the leading bytes of data
func SniffMIME(data []byte) string {
	return normalizeMIME(mimetype.Detect(data).String())
}

// normalizeMIME lowercases a content type and drops its parameters
func normalizeMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
