package file

import (
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultMaxNameLength bounds sanitized file and folder names.
const DefaultMaxNameLength = 60

var unsafeChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SafeName strips filesystem-unsafe characters from text and truncates it so
// it can be used as a file or folder name. Empty input yields "Untitled".
func SafeName(text string) string {
	return SafeNameN(text, DefaultMaxNameLength)
}

func SafeNameN(text string, maxLength int) string {
	if text == "" {
		return "Untitled"
	}
	text = strings.TrimSpace(unsafeChars.ReplaceAllString(text, "_"))
	text = strings.Trim(strings.TrimSpace(text), ".")
	if strings.Trim(text, "_") == "" {
		return "Untitled"
	}
	runes := []rune(text)
	if len(runes) > maxLength {
		return string(runes[:maxLength])
	}
	return text
}

// ReplaceExt swaps the extension of path, appending ext when path has none.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	lastDot := strings.LastIndex(filename, ".")

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if lastDot <= 0 {
		return filepath.Join(dir, filename+ext)
	}

	return filepath.Join(dir, filename[:lastDot]+ext)
}
