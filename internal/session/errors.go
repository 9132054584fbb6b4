package session

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a session that left Idle.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrSessionNotOpen rejects GATT operations before the session reaches
	// Open or after it terminates.
	ErrSessionNotOpen = errors.New("session not open")

	// ErrWritePending rejects a write-with-response while another one is
	// outstanding on the same characteristic. The transport matches
	// acknowledgements by characteristic only, so a second in-flight write
	// would make them ambiguous.
	ErrWritePending = errors.New("write already pending on characteristic")

	// ErrConnectTimeout terminates a session whose peripheral did not reach
	// Open within the configured deadline.
	ErrConnectTimeout = errors.New("connection timed out")

	// ErrClosedByUser is the terminal error of a session ended by Close.
	ErrClosedByUser = errors.New("session closed by user")
)
