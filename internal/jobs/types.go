package jobs

import "time"

// Status is the job lifecycle state. Pending is the only initial state;
// Completed and Failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MessageCode is the machine-readable progress/outcome tag mirrored into the
// human-readable message.
type MessageCode string

const (
	MsgDownloadPending MessageCode = "download_pending"
	MsgDownloadRunning MessageCode = "download_running"
	MsgDownloadSuccess MessageCode = "download_success"
	MsgDownloadFailed  MessageCode = "download_failed"

	MsgTranscribeRunning MessageCode = "transcribe_running"
	MsgTranscribeSuccess MessageCode = "transcribe_success"
	MsgTranscribeEmpty   MessageCode = "transcribe_empty"
	MsgTranscribeFailed  MessageCode = "transcribe_failed"

	MsgParseFailed   MessageCode = "parse_failed"
	MsgFetchFailed   MessageCode = "fetch_failed"
	MsgInternalError MessageCode = "internal_error"
)

var messageTemplates = map[MessageCode]string{
	MsgDownloadPending: "Task created, waiting to download.",
	MsgDownloadRunning: "Downloading media...",
	MsgDownloadSuccess: "Download success.",
	MsgDownloadFailed:  "Download failed or no media found.",

	MsgTranscribeRunning: "Transcribing (please wait)...",
	MsgTranscribeSuccess: "Transcription success.",
	MsgTranscribeEmpty:   "Transcription returned empty.",
	MsgTranscribeFailed:  "Transcription failed.",

	MsgParseFailed:   "Could not parse the submitted identifier.",
	MsgFetchFailed:   "Failed to fetch media metadata.",
	MsgInternalError: "Internal error occurred.",
}

// ErrorCode is the stable machine code on failed jobs. Callers branch on the
// code, never on the free-text detail.
type ErrorCode string

const (
	ErrCodeInternal         ErrorCode = "internal_error"
	ErrCodeParseFailed      ErrorCode = "parse_failed"
	ErrCodeFetchFailed      ErrorCode = "fetch_failed"
	ErrCodeDownloadFailed   ErrorCode = "download_failed"
	ErrCodeNoVideoFound     ErrorCode = "no_video_found"
	ErrCodeTranscribeFailed ErrorCode = "transcribe_failed"
	ErrCodeTranscribeEmpty  ErrorCode = "transcribe_empty"
)

// ErrorInfo is the structured error attached to a failed job.
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// Job is the externally visible state of one unit of work. It is owned by
// its task; consumers only ever see value snapshots.
type Job struct {
	TaskID      string      `json:"task_id"`
	Status      Status      `json:"status"`
	VideoID     string      `json:"video_id"`
	MessageCode MessageCode `json:"message_code,omitempty"`
	Message     string      `json:"message"`
	Result      interface{} `json:"result,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Error       *ErrorInfo  `json:"error,omitempty"`
}
