package http

import (
	"mime"
	"path/filepath"
	"strings"
)

// fallbackTypes covers extensions the platform mime database may miss.
var fallbackTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    "text/javascript",
	".json":  "application/json",
	".xml":   "application/xml",
	".txt":   "text/plain",
	".md":    "text/markdown",
	".csv":   "text/csv",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".webp":  "image/webp",
	".pdf":   "application/pdf",
	".wasm":  "application/wasm",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".mp3":   "audio/mpeg",
	".mp4":   "video/mp4",
}

// ContentTypeForExtension infers a Content-Type from a file extension
// (".html"). Unknown extensions map to application/octet-stream.
func ContentTypeForExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if t, ok := fallbackTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}

// ContentTypeForPath infers a Content-Type from a file path's extension.
func ContentTypeForPath(path string) string {
	return ContentTypeForExtension(filepath.Ext(path))
}
