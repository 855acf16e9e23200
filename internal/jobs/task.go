package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kaloper/douyin-fetch/internal/douyin"
	"github.com/kaloper/douyin-fetch/pkg/log"
)

// Retriever resolves a work identifier into downloaded file paths.
type Retriever interface {
	Retrieve(ctx context.Context, text string) ([]string, error)
}

// Transcriber turns a media file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Task is a registered unit of work. Run drives the owned Job to a terminal
// state and never panics or returns an error past this boundary.
type Task interface {
	ID() string
	Snapshot() Job
	Run(ctx context.Context)
}

// videoExts are the containers the composite task hands to transcription.
var videoExts = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
}

// baseTask owns the Job and serializes all mutations behind a mutex so that
// status polls may race with the running task.
type baseTask struct {
	mu  sync.Mutex
	job Job
}

func newBaseTask(id, videoID string, initial MessageCode) baseTask {
	job := Job{
		TaskID:      id,
		Status:      StatusPending,
		VideoID:     videoID,
		CreatedAt:   time.Now(),
		MessageCode: initial,
	}
	if template, ok := messageTemplates[initial]; ok {
		job.Message = template
	} else {
		job.Message = string(initial)
	}
	return baseTask{job: job}
}

func (t *baseTask) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.TaskID
}

// Snapshot returns a value copy safe to hand to pollers.
func (t *baseTask) Snapshot() Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.job
	if t.job.Error != nil {
		errCopy := *t.job.Error
		snapshot.Error = &errCopy
	}
	if files, ok := t.job.Result.([]string); ok {
		snapshot.Result = append([]string(nil), files...)
	}
	return snapshot
}

func (t *baseTask) setMessageLocked(code MessageCode) {
	t.job.MessageCode = code
	if template, ok := messageTemplates[code]; ok {
		t.job.Message = template
	} else {
		t.job.Message = string(code)
	}
}

// SetMessage updates the progress tag and its rendered message.
func (t *baseTask) SetMessage(code MessageCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setMessageLocked(code)
}

func (t *baseTask) setProcessing(code MessageCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.Status = StatusProcessing
	t.setMessageLocked(code)
}

func (t *baseTask) complete(result interface{}, code MessageCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.Status = StatusCompleted
	t.job.Result = result
	t.setMessageLocked(code)
}

// Fail marks the job Failed with a stable error code, the rendered message
// and, when err is non-nil, the technical detail.
func (t *baseTask) Fail(code ErrorCode, msgCode MessageCode, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.job.Status = StatusFailed
	t.setMessageLocked(msgCode)

	info := &ErrorInfo{
		Code:    code,
		Message: t.job.Message,
	}
	if err != nil {
		info.Detail = err.Error()
	}
	t.job.Error = info
}

// recoverPanic folds an escaping panic into the internal_error terminal
// state. Deferred at the top of every Run.
func (t *baseTask) recoverPanic() {
	if r := recover(); r != nil {
		log.Error("Task %s panicked: %v", t.job.TaskID, r)
		t.Fail(ErrCodeInternal, MsgInternalError, fmt.Errorf("panic: %v", r))
	}
}

// failFromRetrieve maps retrieval error kinds onto stable error codes.
func (t *baseTask) failFromRetrieve(err error) {
	var parseErr *douyin.ParseError
	var fetchErr *douyin.FetchError
	var dlErr *douyin.DownloadError
	switch {
	case errors.As(err, &parseErr):
		t.Fail(ErrCodeParseFailed, MsgParseFailed, err)
	case errors.As(err, &fetchErr):
		t.Fail(ErrCodeFetchFailed, MsgFetchFailed, err)
	case errors.As(err, &dlErr):
		t.Fail(ErrCodeDownloadFailed, MsgDownloadFailed, err)
	default:
		t.Fail(ErrCodeInternal, MsgInternalError, err)
	}
}

// DownloadTask retrieves media files and reports their locations.
type DownloadTask struct {
	baseTask
	input     string
	retriever Retriever
}

func NewDownloadTask(id, input string, retriever Retriever) *DownloadTask {
	return &DownloadTask{
		baseTask:  newBaseTask(id, input, MsgDownloadPending),
		input:     input,
		retriever: retriever,
	}
}

func (t *DownloadTask) Run(ctx context.Context) {
	defer t.recoverPanic()

	t.setProcessing(MsgDownloadRunning)

	files, err := t.retriever.Retrieve(ctx, t.input)
	if err != nil {
		log.Error("Task %s retrieval failed: %v", t.job.TaskID, err)
		t.failFromRetrieve(err)
		return
	}
	if len(files) == 0 {
		t.Fail(ErrCodeDownloadFailed, MsgDownloadFailed, nil)
		return
	}

	t.complete(files, MsgDownloadSuccess)
}

// DownloadTranscribeTask retrieves media files and transcribes the first
// video among them.
type DownloadTranscribeTask struct {
	baseTask
	input       string
	retriever   Retriever
	transcriber Transcriber
}

func NewDownloadTranscribeTask(id, input string, retriever Retriever, transcriber Transcriber) *DownloadTranscribeTask {
	return &DownloadTranscribeTask{
		baseTask:    newBaseTask(id, input, MsgDownloadPending),
		input:       input,
		retriever:   retriever,
		transcriber: transcriber,
	}
}

func (t *DownloadTranscribeTask) Run(ctx context.Context) {
	defer t.recoverPanic()

	t.setProcessing(MsgDownloadRunning)

	files, err := t.retriever.Retrieve(ctx, t.input)
	if err != nil {
		log.Error("Task %s retrieval failed: %v", t.job.TaskID, err)
		t.failFromRetrieve(err)
		return
	}
	if len(files) == 0 {
		t.Fail(ErrCodeNoVideoFound, MsgDownloadFailed, nil)
		return
	}

	t.SetMessage(MsgTranscribeRunning)

	transcript := ""
	for _, path := range files {
		if !videoExts[strings.ToLower(filepath.Ext(path))] {
			continue
		}
		transcript, err = t.transcriber.Transcribe(ctx, path)
		if err != nil {
			log.Error("Task %s transcription failed: %v", t.job.TaskID, err)
			t.Fail(ErrCodeTranscribeFailed, MsgTranscribeFailed, err)
			return
		}
		break
	}

	if transcript == "" {
		t.Fail(ErrCodeTranscribeEmpty, MsgTranscribeEmpty, nil)
		return
	}

	t.complete(transcript, MsgTranscribeSuccess)
}
