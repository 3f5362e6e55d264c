package k8s

import "errors"

var (
	// ErrServiceAccountNotFound is wrapped into CreateTokenRequest's error
	// when the target service account does not exist.
	ErrServiceAccountNotFound = errors.New("service account not found")
	// ErrRequestServiceAccountToken is wrapped in when the API server
	// returns a TokenRequest whose status carries no token.
	ErrRequestServiceAccountToken = errors.New("token request returned no token")
)
