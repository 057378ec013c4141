package remote

import "fmt"

// ConnectionError indicates the remote host could not be reached or the
// session was lost before a command could run.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthError indicates the remote host rejected the supplied credentials.
type AuthError struct {
	Host string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication to %s failed: %v", e.Host, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
