package golestan

import (
	"errors"
	"fmt"
)

// ErrCredentialsRejected is terminal: the portal explicitly refused the
// account id or password, so no amount of retrying helps.
var ErrCredentialsRejected = errors.New("the portal rejected the account id or password")

// ErrCaptchaRejected marks a wrong captcha answer. Retried internally
// up to the attempt ceiling; surfaces wrapped in AuthExhaustedError
// once the rounds run out.
var ErrCaptchaRejected = errors.New("the portal rejected the captcha answer")

var errUnexpectedPage = errors.New("landed on an unexpected page")

// MissingFieldError names the hidden form field that could not be found
// in a response. This is usually the first sign that navigation silently
// ended up on the wrong screen.
type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("hidden field %q is missing from the page", e.Field)
}

// StatusError is a non-2xx/3xx response from the portal.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("portal responded with status %d", e.Code)
}

// AuthExhaustedError is the terminal outcome of running out of login
// attempts without the portal ever accepting or explicitly refusing the
// credentials. Err carries what kept failing: ErrCaptchaRejected when
// the portal refused every round, nil when the solver never produced a
// usable guess to submit.
type AuthExhaustedError struct {
	Attempts int
	Err      error
}

func (e AuthExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gave up logging in after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("gave up logging in after %d attempts", e.Attempts)
}

func (e AuthExhaustedError) Unwrap() error {
	return e.Err
}

// CaptchaUnchangedError means the portal kept serving the same captcha
// image across the whole refresh budget, so a genuinely fresh round
// never became possible.
type CaptchaUnchangedError struct {
	Refreshes int
}

func (e CaptchaUnchangedError) Error() string {
	return fmt.Sprintf("captcha image did not change after %d refreshes", e.Refreshes)
}

// UnknownAuthError is a login response that matched none of the known
// outcome markers.
type UnknownAuthError struct {
	Message string
}

func (e UnknownAuthError) Error() string {
	if e.Message == "" {
		return "login ended in an unrecognized page"
	}
	return fmt.Sprintf("login ended in an unrecognized page: %s", e.Message)
}

// VerifyTimeoutError is a navigation step that never verified within
// its retry budget.
type VerifyTimeoutError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *VerifyTimeoutError) Error() string {
	return fmt.Sprintf("step %q failed verification after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *VerifyTimeoutError) Unwrap() error {
	return e.Err
}

// ExportEmptyError means every export attempt came back empty. Returned
// instead of an empty course list so zero courses is never mistaken for
// a valid result.
type ExportEmptyError struct {
	Attempts int
}

func (e ExportEmptyError) Error() string {
	return fmt.Sprintf("export produced an empty payload on all %d attempts", e.Attempts)
}
