// Package naming turns submissions into safe destination paths.
package naming

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Filesystem profiles understood by Sanitizer.
const (
	ProfilePOSIX   = "posix"
	ProfileWindows = "windows"
)

// MaxNameBytes caps a single path element on every supported filesystem.
const MaxNameBytes = 255

var (
	posixInvalid   = regexp.MustCompile(`[/\x00-\x1f]+`)
	windowsInvalid = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

var windowsReserved = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitizer is the default downloader.PathSanitizer.
type Sanitizer struct{}

// Sanitize maps name onto a single valid path element for profile. Unknown
// profiles are treated as POSIX. An extension after the last dot survives
// truncation.
func (Sanitizer) Sanitize(name, profile string) string {
	invalid := posixInvalid
	if strings.EqualFold(profile, ProfileWindows) {
		invalid = windowsInvalid
	}
	name = invalid.ReplaceAllString(name, "")
	name = whitespaceRuns.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	if strings.EqualFold(profile, ProfileWindows) {
		name = strings.TrimRight(name, ". ")
		stem := name
		if i := strings.IndexByte(stem, '.'); i >= 0 {
			stem = stem[:i]
		}
		if _, reserved := windowsReserved[strings.ToUpper(stem)]; reserved {
			name = "_" + name
		}
	}
	switch name {
	case "", ".", "..":
		return "_"
	}
	return truncate(name, MaxNameBytes)
}

// truncate shortens name to at most limit bytes on a rune boundary,
// keeping a short trailing extension intact.
func truncate(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > 16 || len(ext) >= limit {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	budget := limit - len(ext)
	for len(stem) > budget {
		_, size := utf8.DecodeLastRuneInString(stem)
		stem = stem[:len(stem)-size]
	}
	return strings.TrimSpace(stem) + ext
}
