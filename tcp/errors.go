package tcp

import "errors"

// Sentinel errors of the tcp package. Callers distinguish them with
// errors.Is. ErrConnectionRefused, ErrConnectionReset,
// ErrConnectionTimedOut, ErrListenerClosed and ErrWouldBlock are declared
// here but no function in this package returns them.
var (
	// ErrConnectionRefused names a connection whose SYN was answered with
	// RST.
	ErrConnectionRefused = errors.New("tcp: connection refused")

	// ErrConnectionReset names a connection reset by the peer.
	ErrConnectionReset = errors.New("tcp: connection reset by peer")

	// ErrConnectionTimedOut names a connection given up for lack of ACKs.
	ErrConnectionTimedOut = errors.New("tcp: connection timed out")

	// ErrConnectionClosing is returned by Send once the local side has
	// called Close and entered the FIN sequence: no further data may be
	// queued for transmission.
	ErrConnectionClosing = errors.New("tcp: connection closing")

	// ErrFinished is returned by Recv once the peer's FIN has been received
	// and the receive buffer has fully drained: a clean, orderly end of the
	// stream, distinct from the abnormal termination ErrInvalidState
	// signals when the socket was reset or aborted instead.
	ErrFinished = errors.New("tcp: connection finished")

	// ErrListenerClosed names a closed listening socket.
	ErrListenerClosed = errors.New("tcp: listener closed")

	// ErrWouldBlock names an operation that cannot complete immediately.
	ErrWouldBlock = errors.New("tcp: operation would block")

	// ErrInvalidState is returned when an operation is attempted from a
	// state that does not permit it (e.g. Connect on an already-connected
	// socket).
	ErrInvalidState = errors.New("tcp: invalid operation for current state")
)
