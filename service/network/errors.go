package network

import "github.com/pkg/errors"

var (
	// ErrUnknownKind is returned when decoding a request of an unknown kind
	ErrUnknownKind = errors.New("network: unknown request kind")

	// ErrConnectionClosed is returned by requests on a closed connection
	ErrConnectionClosed = errors.New("network: connection closed")

	// ErrUnexpectedRequest is returned by handlers that do not serve a kind
	ErrUnexpectedRequest = errors.New("network: unexpected request")

	// ErrNoConnection is returned when no connection is registered for a machine
	ErrNoConnection = errors.New("network: no connection for machine")
)

// RemoteError is an error reported by the peer that handled a request
type RemoteError struct {
	Kind    Kind
	Message string
}

func (e *RemoteError) Error() string {
	return string(e.Kind) + ": " + e.Message
}
