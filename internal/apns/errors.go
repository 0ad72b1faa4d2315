package apns

import "errors"

// Configuration errors returned by NewConn. They are fatal to the Conn
// being constructed and never retried internally.
var (
	// ErrGatewayScheme is returned when the gateway URL does not use https.
	ErrGatewayScheme = errors.New("apns: gateway scheme must be https")

	// ErrNoAuth is returned when neither a certificate nor a token signing
	// key is configured.
	ErrNoAuth = errors.New("apns: a client certificate or a token signing key is required")

	// ErrDualAuth is returned when both auth modes are configured at once.
	ErrDualAuth = errors.New("apns: certificate and token auth are mutually exclusive")
)
