package collab

import (
	"fmt"
)

type ErrorCode string

const (
	ErrorCodeDisconnected    ErrorCode = "DISCONNECTED"
	ErrorCodeConnectionError ErrorCode = "CONNECTION_ERROR"
	// reserved codes. Defined for external callers and extensions,
	// not raised by this package.
	ErrorCodeCollabDocError ErrorCode = "COLLAB_DOC_ERROR"
	ErrorCodeInitFailed     ErrorCode = "INIT_FAILED"
	ErrorCodeSaveFailed     ErrorCode = "SAVE_FAILED"
	ErrorCodePublishFailed  ErrorCode = "PUBLISH_FAILED"
)

type ErrorLevel string

const (
	ErrorLevelFatal   ErrorLevel = "FATAL"
	ErrorLevelWarning ErrorLevel = "WARNING"
	ErrorLevelNotice  ErrorLevel = "NOTICE"
)

// ClientError is emitted to error callbacks and forgotten. It is never
// persisted, and raising one does not by itself close the transport.
type ClientError struct {
	Code    ErrorCode
	Level   ErrorLevel
	Message string
	// underlying transport error, if any
	Cause error
}

func NewClientError(code ErrorCode, level ErrorLevel, message string, cause error) *ClientError {
	return &ClientError{
		Code:    code,
		Level:   level,
		Message: message,
		Cause:   cause,
	}
}

func (self *ClientError) Error() string {
	if self.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %s", self.Code, self.Level, self.Message, self.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", self.Code, self.Level, self.Message)
}

func (self *ClientError) Unwrap() error {
	return self.Cause
}
