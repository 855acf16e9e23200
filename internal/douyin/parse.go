package douyin

import (
	"regexp"
	"strings"
)

// RequestKind selects which metadata endpoint a request goes to.
type RequestKind int

const (
	// FetchByID queries with the bare numeric aweme id.
	FetchByID RequestKind = iota
	// FetchByShareURL queries with the full share text; the extracted short
	// code only serves as the cache key.
	FetchByShareURL
)

// Request is a parsed work identifier ready for the metadata API.
type Request struct {
	Kind     RequestKind
	CacheKey string
	AwemeID  string
	ShareURL string
}

var (
	awemeIDPattern   = regexp.MustCompile(`^\d{18,20}$`)
	shareCodePattern = regexp.MustCompile(`v\.douyin\.com/([a-zA-Z0-9]+)`)
)

// ParseInput classifies raw caller text as a bare numeric id or free text
// containing a share link. Anything else is a ParseError.
func ParseInput(text string) (Request, error) {
	text = strings.TrimSpace(text)

	if awemeIDPattern.MatchString(text) {
		return Request{
			Kind:     FetchByID,
			CacheKey: text,
			AwemeID:  text,
		}, nil
	}

	if m := shareCodePattern.FindStringSubmatch(text); m != nil {
		return Request{
			Kind:     FetchByShareURL,
			CacheKey: m[1],
			ShareURL: text,
		}, nil
	}

	return Request{}, &ParseError{Input: text}
}
