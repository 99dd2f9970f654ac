package discord

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// ActionError is returned by every Client call that reached the platform and
// failed. Code carries the JSON error code when the API sent one.
type ActionError struct {
	Op     string
	Code   int
	Status int
	Err    error
}

func (e *ActionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: code %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	actionErr := &ActionError{Op: op, Err: err}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil {
			actionErr.Code = restErr.Message.Code
		}
		if restErr.Response != nil {
			actionErr.Status = restErr.Response.StatusCode
		}
	}
	return actionErr
}

func IsMissingPermissions(err error) bool {
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		return false
	}
	return actionErr.Code == discordgo.ErrCodeMissingPermissions || actionErr.Status == http.StatusForbidden
}

func IsUnknownEmoji(err error) bool {
	var actionErr *ActionError
	return errors.As(err, &actionErr) && actionErr.Code == discordgo.ErrCodeUnknownEmoji
}

func IsNotFound(err error) bool {
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		return false
	}
	return actionErr.Code == discordgo.ErrCodeUnknownMessage || actionErr.Status == http.StatusNotFound
}

// NewActionError builds an ActionError without an underlying REST response.
func NewActionError(op string, status, code int) *ActionError {
	return &ActionError{Op: op, Status: status, Code: code, Err: fmt.Errorf("http %d", status)}
}
