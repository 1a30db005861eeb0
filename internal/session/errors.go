package session

import (
	"context"
	"errors"

	"github.com/pipetrace/agent/internal/jobsvc"
	"github.com/pipetrace/agent/internal/upload"
)

var (
	ErrBusy              = errors.New("a document or question is already being processed")
	ErrNotReady          = errors.New("no processed document; upload a PDF first")
	ErrEmptyQuestion     = errors.New("question is empty")
	ErrQueryViewDisabled = errors.New("query view is available once a document is ready")
	ErrInvalidView       = errors.New("unknown view")
	ErrClosed            = errors.New("session closed")
)

// TerminalJobError reports that the job service ended the job in its error
// stage.
type TerminalJobError struct {
	Message string
}

func (e *TerminalJobError) Error() string {
	if e.Message == "" {
		return "document processing failed"
	}
	return e.Message
}

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindTransport
	KindBackend
	KindTerminalJob
	KindBusy
	KindNotReady
	KindInput
	KindCanceled
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindBackend:
		return "backend"
	case KindTerminalJob:
		return "terminal_job"
	case KindBusy:
		return "busy"
	case KindNotReady:
		return "not_ready"
	case KindInput:
		return "input"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// Classify maps err to the kind used for display and API status codes.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var (
		ve *upload.ValidationError
		be *jobsvc.BackendError
		te *jobsvc.TransportError
		je *TerminalJobError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &be):
		return KindBackend
	case errors.As(err, &je):
		return KindTerminalJob
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrEmptyQuestion), errors.Is(err, ErrQueryViewDisabled), errors.Is(err, ErrInvalidView):
		return KindInput
	case errors.As(err, &te):
		return KindTransport
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		return KindCanceled
	default:
		return KindInternal
	}
}

// DisplayMessage is the text an operator sees for err.
func DisplayMessage(err error) string {
	var be *jobsvc.BackendError
	if errors.As(err, &be) {
		return be.Message
	}
	var ve *upload.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}
