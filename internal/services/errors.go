package services

import "errors"

var (
	// ErrValidation wraps malformed input. The wrapped validator.ValidationErrors carries the field detail.
	ErrValidation = errors.New("credentials: invalid input")
	// ErrAlreadyRegistered signals that the email is already bound to an account.
	ErrAlreadyRegistered = errors.New("credentials: email already registered")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("credentials: invalid email or password")
	// ErrTokenInvalid covers unknown, expired and already redeemed reset tokens.
	ErrTokenInvalid = errors.New("credentials: reset token invalid or expired")
)
