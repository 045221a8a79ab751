package file

import (
	"path/filepath"
	"strings"
)

// InsertSuffix inserts suffix between the file name and its extension,
// keeping the directory and the container extension intact.
//
//	InsertSuffix("/v/clip.mp4", "_with_subtitles") == "/v/clip_with_subtitles.mp4"
func InsertSuffix(path, suffix string) string {
	if path == "" {
		return path
	}

	dir := filepath.Dir(path)
	name, ext := SplitExt(filepath.Base(path))
	return filepath.Join(dir, name+suffix+ext)
}

// SplitExt splits a base file name into name and extension.
// Leading-dot names such as ".profile" have no extension.
func SplitExt(filename string) (string, string) {
	lastDot := strings.LastIndex(filename, ".")
	if lastDot <= 0 {
		return filename, ""
	}
	return filename[:lastDot], filename[lastDot:]
}
