package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type resource struct {
	closed int
}

func (r *resource) Close_() { r.closed++ } //nolint:revive // required by lifecycle.Instance interface

func (*resource) String() string { return "RESOURCE" }

func TestDefaultManagerStart(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		startErr error
	}{
		{"ok", nil},
		{"failing start", errors.New("no device")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inst := &resource{}
			manager := NewDefaultManager(inst)
			calls := 0
			err := manager.Start(func(*resource) error {
				calls++
				return tt.startErr
			})
			require.Equal(t, tt.startErr, err)

			err = manager.Start(func(*resource) error {
				calls++
				return nil
			})
			var already *StartedAlreadyError
			require.ErrorAs(t, err, &already)
			require.Equal(t, 1, calls)
		})
	}
}

func TestDefaultManagerCloseOnce(t *testing.T) {
	t.Parallel()
	inst := &resource{}
	manager := NewDefaultManager(inst)
	require.NoError(t, manager.Start(func(*resource) error { return nil }))
	manager.Close()
	manager.Close()
	require.Equal(t, 1, inst.closed)
}

func TestDefaultManagerStartAfterClose(t *testing.T) {
	t.Parallel()
	inst := &resource{}
	manager := NewDefaultManager(inst)
	manager.Close()
	require.Equal(t, 1, inst.closed)

	err := manager.Start(func(*resource) error { return nil })
	var afterClose *StartedAfterCloseError
	require.ErrorAs(t, err, &afterClose)
}
