package lifecycle

import (
	"fmt"
	"runtime/debug"

	"github.com/ugparu/vkdecoder/utils/logger"
)

type failSafeAsyncManager[T AsyncInstance] struct {
	*stepLoop[T]
}

// NewFailSafeAsyncManager returns a manager whose loop survives Step errors and panics.
// Only a BreakError or Close stops it. Err reports the last error seen.
func NewFailSafeAsyncManager[T AsyncInstance](instance T) AsyncManager[T] {
	return &failSafeAsyncManager[T]{stepLoop: newStepLoop(instance, true)}
}

// Start never fails: a start error or panic is recorded and the loop runs anyway.
func (m *failSafeAsyncManager[T]) Start(startFunc func(T) error) error {
	m.startOnce.Do(func() {
		logger.Debugf(m.instance, "Starting failsafe async")
		if err := m.tryStart(startFunc); err != nil {
			logger.Warningf(m.instance, "Detected error on start: %s", err.Error())
			m.setErr(err)
		}
		go m.run()
	})
	return nil
}

func (m *failSafeAsyncManager[T]) tryStart(startFunc func(T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(m.instance, "%s", debug.Stack())
			err = fmt.Errorf("panic on start: %v", r)
		}
	}()
	return startFunc(m.instance)
}
