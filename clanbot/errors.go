package clanbot

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by ClanService wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	// ErrValidation is malformed user input (name length, hex color,
	// duplicate role selection)
	ErrValidation = errors.New("validation error")

	// ErrPrecondition is an operation invoked in a state that forbids it
	ErrPrecondition = errors.New("precondition failed")

	// ErrHierarchyTooLow means the bot's top role can't reach the role or
	// member being touched
	ErrHierarchyTooLow = errors.New("bot role hierarchy too low")

	// ErrResourceStale means a stored role/channel ID no longer resolves
	ErrResourceStale = errors.New("resource stale")

	// ErrExternalOperation is an unexpected discord API failure
	ErrExternalOperation = errors.New("external operation failed")

	// ErrTimeout means a prompt expired before the user responded
	ErrTimeout = errors.New("timed out")

	// ErrStorage is a database failure
	ErrStorage = errors.New("storage error")

	// ErrPartialTransfer is returned when an ownership transfer stopped
	// between role mutations
	ErrPartialTransfer = errors.New("ownership transfer partially applied")
)

const (
	msgTimeout      = "Time ran out, try again!"
	msgHierarchyFix = "My role is too low to manage that. Ask an administrator to move my role above the clan roles."
	msgReconfigure  = "The clan configuration may be corrupt. Ask an administrator to reconfigure it."
)

// ClanError carries the error kind, the operation that failed, a message
// that's safe to show the user, and the underlying cause (if any).
type ClanError struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *ClanError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Kind != nil {
		sb.WriteString(e.Kind.Error())
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ClanError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func validationError(op string, format string, args ...any) error {
	return &ClanError{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func preconditionError(op string, format string, args ...any) error {
	return &ClanError{Kind: ErrPrecondition, Op: op, Message: fmt.Sprintf(format, args...)}
}

func hierarchyError(op string, err error) error {
	return &ClanError{Kind: ErrHierarchyTooLow, Op: op, Message: msgHierarchyFix, Err: err}
}

func staleError(op string, format string, args ...any) error {
	return &ClanError{Kind: ErrResourceStale, Op: op, Message: fmt.Sprintf(format, args...)}
}

func externalError(op string, err error) error {
	return &ClanError{Kind: ErrExternalOperation, Op: op, Err: err}
}

func storageError(op string, err error) error {
	return &ClanError{Kind: ErrStorage, Op: op, Err: err}
}

func timeoutError(op string) error {
	return &ClanError{Kind: ErrTimeout, Op: op, Message: msgTimeout}
}

// TransferError reports an ownership transfer which stopped partway
// through the role swap. The owner column is never updated when this is
// returned.
type TransferError struct {
	Completed []string
	Failed    string
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf(
		"%s: failed at %q after [%s]: %v",
		ErrPartialTransfer.Error(),
		e.Failed,
		strings.Join(e.Completed, ", "),
		e.Err,
	)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrPartialTransfer, ErrExternalOperation, e.Err}
}

// UserMessage returns the message to show a discord user for err.
// Validation, precondition, hierarchy, stale-resource and timeout errors
// return their specific message. Anything else gets the generic message,
// so internals aren't leaked.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var te *TransferError
	if errors.As(err, &te) {
		if len(te.Completed) == 0 {
			return "The ownership transfer failed before any roles were changed. Nothing was modified."
		}
		return fmt.Sprintf(
			"The ownership transfer was interrupted after: %s. "+
				"Ownership was not changed. Ask an administrator to finish it with /clan-admin transfer-ownership.",
			strings.Join(te.Completed, ", "),
		)
	}

	var ce *ClanError
	if errors.As(err, &ce) {
		switch {
		case errors.Is(ce.Kind, ErrExternalOperation), errors.Is(ce.Kind, ErrStorage):
			return DefaultDiscordErrorMessage
		case ce.Message != "":
			return ce.Message
		case errors.Is(ce.Kind, ErrTimeout):
			return msgTimeout
		case errors.Is(ce.Kind, ErrHierarchyTooLow):
			return msgHierarchyFix
		case errors.Is(ce.Kind, ErrResourceStale):
			return msgReconfigure
		}
	}
	return DefaultDiscordErrorMessage
}

// isUserError reports whether err is recovered locally with a direct
// response, rather than being logged as an unexpected failure
func isUserError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPrecondition) ||
		errors.Is(err, ErrTimeout)
}
