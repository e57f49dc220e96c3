package connector

import (
	"errors"
	"fmt"

	"github.com/BTreeMap/RunPipe/internal/models"
	"github.com/BTreeMap/RunPipe/internal/rapidpro"
)

// UserError is a failure the person configuring the report can act on. The
// host shows Message and aborts the current operation.
type UserError struct {
	Message string
	Cause   error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

// ShowError builds a UserError carrying message.
func ShowError(message string) error {
	return &UserError{Message: message}
}

// AsUserError returns the UserError in err's chain, if any.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// userFacing turns the failures a user can fix into UserErrors and leaves
// everything else untouched.
func userFacing(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsUserError(err); ok {
		return err
	}

	var apiErr *rapidpro.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Unauthorized():
		return &UserError{Message: "RapidPro rejected the API token, check it on your account page", Cause: err}
	case errors.Is(err, models.ErrMissingBaseURL),
		errors.Is(err, models.ErrMissingCustomURL),
		errors.Is(err, models.ErrMissingAPIToken),
		errors.Is(err, models.ErrMissingFlowUUID),
		errors.Is(err, models.ErrInvalidFlowUUID):
		return &UserError{Message: "Incomplete configuration: " + err.Error(), Cause: err}
	case errors.Is(err, models.ErrUnknownField):
		return &UserError{Message: "The report requested a field this flow does not have", Cause: err}
	}
	return err
}
