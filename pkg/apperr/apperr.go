package apperr

import (
	"errors"
	"fmt"
)

const (
	MetaReason    = "reason"
	MetaStage     = "stage"
	MetaField     = "field"
	MetaRequestID = "request_id"
	MetaSelector  = "selector"
	MetaTarget    = "target"
	MetaURL       = "url"
	MetaFrame     = "frame"

	StageSession    = "session"
	StageNavigation = "navigation"
	StageUpload     = "upload"
	StageSettings   = "settings"
	StagePrompt     = "prompt"
	StagePoll       = "poll"
	StageServer     = "server"

	CodeInternal         = "internal"
	CodeInvalidArgument  = "invalid_argument"
	CodeLaunchFailed     = "launch_failed"
	CodeNavigationFailed = "navigation_failed"
	CodeInvalidPayload   = "invalid_payload"
	CodeElementNotFound  = "element_not_found"
	CodeNoResults        = "no_results"
	CodeTimeout          = "timeout"
	CodeUnavailable      = "unavailable"
)

type Error struct {
	Op       string
	Code     string
	Err      error
	Metadata map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(op, code string, err error, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Error{
		Op:       op,
		Code:     code,
		Err:      err,
		Metadata: metadata,
	}
}

func WrapWithReason(op, code string, err error, reason string) error {
	return Wrap(op, code, err, map[string]any{
		MetaReason: reason,
	})
}

func WrapErrorWithReason(op, code, reason string) error {
	return Wrap(op, code, errors.New(reason), map[string]any{
		MetaReason: reason,
	})
}

func InvalidReqError(op, field string, err error) error {
	return Wrap(op, CodeInvalidArgument, err, map[string]any{
		MetaField:  field,
		MetaReason: "invalid_request",
	})
}

func NotFoundError(op, target string) error {
	return Wrap(op, CodeElementNotFound, fmt.Errorf("element not found: %s", target), map[string]any{
		MetaTarget: target,
		MetaReason: "element_not_found",
	})
}

// CodeOf returns the code of the outermost *Error in the chain,
// or CodeInternal for foreign errors.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	return CodeInternal
}

func IsCode(err error, code string) bool {
	var appErr *Error
	for errors.As(err, &appErr) {
		if appErr.Code == code {
			return true
		}

		err = appErr.Err
	}

	return false
}
