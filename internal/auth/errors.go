package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrMissingFields      = errors.New("missing required fields")
	ErrEmailMismatch      = errors.New("emails do not match")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrWeakPassword       = errors.New("password too short")
	ErrInvalidEmail       = errors.New("invalid email address")
)

// Message returns the text shown to a user for an auth failure.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingFields):
		return "Please fill in all fields."
	case errors.Is(err, ErrEmailMismatch):
		return "Emails do not match."
	case errors.Is(err, ErrPasswordMismatch):
		return "Passwords do not match."
	case errors.Is(err, ErrWeakPassword):
		return "Password should be at least 6 characters."
	case errors.Is(err, ErrInvalidEmail):
		return "Please enter a valid email address."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrEmailInUse):
		return "An account with this email already exists."
	case errors.Is(err, ErrInvalidToken):
		return "Your session has expired. Please sign in again."
	default:
		return "Something went wrong. Please try again."
	}
}
