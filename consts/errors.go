package consts

import "errors"

var (
	ErrHandshakeFailed   = errors.New("director handshake failed")
	ErrMalformedResponse = errors.New("malformed director response")

	ErrBadGreeting   = errors.New("unexpected greeting")
	ErrLoginFailed   = errors.New("login failed")
	ErrLoginRejected = errors.New("login rejected before password")

	ErrInvalidPortSpec = errors.New("invalid port specification")

	ErrResolveFailed = errors.New("hostname resolution failed")
)
