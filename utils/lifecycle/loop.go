package lifecycle

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ugparu/vkdecoder/utils/logger"
)

// stepLoop is the state shared by the asynchronous managers: the goroutine calling Step,
// its stop and done signals and the error reported by Err.
type stepLoop[T AsyncInstance] struct {
	instance             T
	stopChan, doneChan   chan struct{}
	startOnce, closeOnce sync.Once
	errMu                sync.Mutex
	err                  error
	// failSafe keeps the loop running across Step errors and panics. Err then reports the last error.
	failSafe bool
}

func newStepLoop[T AsyncInstance](instance T, failSafe bool) *stepLoop[T] {
	return &stepLoop[T]{
		instance: instance,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		failSafe: failSafe,
	}
}

func (l *stepLoop[T]) run() {
	logger.Debug(l.instance, "Entering main loop")
	defer close(l.doneChan)
	for l.step() {
	}
	logger.Debug(l.instance, "Main loop finished")
}

// step runs one Step and reports whether the loop goes on.
func (l *stepLoop[T]) step() (next bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(l.instance, "Panic detected! Recovering from: %v", r)
			logger.Errorf(l.instance, "%s", debug.Stack())
			if !l.failSafe {
				l.setErr(fmt.Errorf("panic: %v", r))
			}
			next = l.failSafe
		}
	}()

	err := l.instance.Step(l.stopChan)
	if err == nil {
		return true
	}
	var brk *BreakError
	if errors.As(err, &brk) {
		return false
	}
	logger.Warningf(l.instance, "Detected error: %s", err.Error())
	l.setErr(err)
	return l.failSafe
}

func (l *stepLoop[T]) setErr(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err == nil || l.failSafe {
		l.err = err
	}
}

func (l *stepLoop[T]) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *stepLoop[T]) Done() <-chan struct{} {
	return l.doneChan
}

// Close stops the loop, waits for it and releases the instance. A loop that never started
// is reported done right away.
func (l *stepLoop[T]) Close() {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.startOnce.Do(func() {
			close(l.doneChan)
		})
		<-l.doneChan
		l.instance.Close_()
	})
}
