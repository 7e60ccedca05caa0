package transport

import "fmt"

// NetworkError means the request never got a response: DNS failure,
// refused or reset connection, timeout.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError means a response arrived with a status outside 200–299.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// ProtocolError means a 2xx response whose body was not the expected JSON
// object, or whose application status signalled failure.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Message, e.Err)
	}
	return "protocol: " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
