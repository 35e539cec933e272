package publisher

import (
	"errors"
	"fmt"
)

// ErrorClass names the concrete type of the root cause of err, for example
// "kafka.Error" or "*errors.errorString". It returns "" for a nil error.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", rootCause(err))
}

// ErrorMessage returns err's message, or "" when err is nil
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// rootCause follows single-error Unwrap chains. Joined errors stop the walk.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// NewDeadLetterRecord annotates a failed record for the dead-letter channel
func NewDeadLetterRecord(rec Record, err error) DeadLetterRecord {
	return DeadLetterRecord{
		Key:           rec.Key,
		Value:         rec.Value,
		ErrorClass:    ErrorClass(err),
		ErrorMessage:  ErrorMessage(err),
		OriginalTopic: rec.Topic,
	}
}
