package lifecycle

import (
	"github.com/ugparu/vkdecoder/utils/logger"
)

type asyncLifecycleManager[T AsyncInstance] struct {
	*stepLoop[T]
}

// NewAsyncManager returns a manager whose loop stops at the first Step error or panic.
// Err keeps that first error.
func NewAsyncManager[T AsyncInstance](instance T) AsyncManager[T] {
	return &asyncLifecycleManager[T]{stepLoop: newStepLoop(instance, false)}
}

func (m *asyncLifecycleManager[T]) Start(startFunc func(T) error) (err error) {
	select {
	case <-m.stopChan:
		return &StartedAfterCloseError{}
	default:
		err = &StartedAlreadyError{}
	}
	m.startOnce.Do(func() {
		logger.Debugf(m.instance, "Starting async")
		if err = startFunc(m.instance); err != nil {
			m.setErr(err)
			close(m.doneChan)
			return
		}
		go m.run()
	})
	return err
}
