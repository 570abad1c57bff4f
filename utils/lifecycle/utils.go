// Package lifecycle starts and releases the long-lived objects of the decoder and its event loops.
package lifecycle

// Instance owns resources released by Close_, called once by its manager.
type Instance interface {
	Close_() //nolint:revive // distinct from the manager's Close
	String() string
}

// AsyncInstance is an Instance whose work is a sequence of Step calls.
// A Step returning BreakError ends the sequence normally.
type AsyncInstance interface {
	Instance
	Step(stopChan <-chan struct{}) error
}

// Manager starts an Instance at most once and releases it at most once.
type Manager[T Instance] interface {
	Start(func(T) error) error
	Close()
}

// AsyncManager additionally runs the Step loop on its own goroutine.
type AsyncManager[T AsyncInstance] interface {
	Manager[T]
	// Done is closed once the loop has exited or will never run.
	Done() <-chan struct{}
	// Err returns the error that stopped the loop, nil while running or after a BreakError.
	Err() error
}

type (
	// BreakError stops a Step loop without reporting a failure.
	BreakError struct{}
	// StartedAlreadyError is returned by a second Start.
	StartedAlreadyError struct{}
	// StartedAfterCloseError is returned by a Start following Close.
	StartedAfterCloseError struct{}
)

func (*BreakError) Error() string { return "loop break" }

func (*StartedAlreadyError) Error() string { return "instance started already" }

func (*StartedAfterCloseError) Error() string { return "instance started after close" }
