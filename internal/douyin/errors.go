package douyin

import "fmt"

// ParseError means the submitted text is neither a bare aweme id nor a share
// link carrying a short code. Never retried.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized input %q: expected an 18-20 digit id or a share link", e.Input)
}

// FetchError means the metadata API call failed or returned a non-success
// envelope. The upstream message, when present, is carried verbatim.
type FetchError struct {
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metadata fetch failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("metadata fetch failed: %s", e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DownloadError means every mirror of a download pair failed, or the pair had
// no mirrors at all. It aborts the job only when the pair was the job's sole
// deliverable.
type DownloadError struct {
	Dest string
	Err  error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download failed for %s: %v", e.Dest, e.Err)
	}
	return fmt.Sprintf("download failed for %s", e.Dest)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
