package recorder

import (
	"fmt"
	"slices"
	"time"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/utils/logger"
)

type fence struct {
	signaled bool
	pending  bool
	ch       chan struct{}
}

func newFence(signaled bool) *fence {
	f := &fence{ch: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f
}

func (f *fence) signal() {
	if f.signaled {
		return
	}
	f.signaled = true
	f.pending = false
	close(f.ch)
}

func (f *fence) reset() {
	if !f.signaled {
		return
	}
	f.signaled = false
	f.ch = make(chan struct{})
}

// Submission is one recorded queue submission.
type Submission struct {
	Info     vkdecoder.SubmitInfo
	Fence    vkdecoder.Fence
	Commands [][]Command
}

// CreateFence creates a fence in the given state.
func (d *Device) CreateFence(signaled bool) (vkdecoder.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := vkdecoder.Fence(d.handle())
	d.fences[f] = newFence(signaled)
	return f, nil
}

// DestroyFence destroys a fence.
func (d *Device) DestroyFence(f vkdecoder.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, f)
}

// SignalFence signals a fence from the host, as a completing queue would.
func (d *Device) SignalFence(f vkdecoder.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences[f]
	if !ok {
		return fmt.Errorf("unknown fence %d", f)
	}
	fc.signal()
	return nil
}

// SignalAll completes every pending submission.
func (d *Device) SignalAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signalAll()
}

func (d *Device) signalAll() {
	for _, f := range d.fences {
		if f.pending {
			f.signal()
		}
	}
}

// SetHoldFences makes later submissions leave their fences pending.
func (d *Device) SetHoldFences(hold bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.HoldFences = hold
}

// WaitForFence implements vkdecoder.DeviceContext.
func (d *Device) WaitForFence(f vkdecoder.Fence, timeout time.Duration) error {
	d.mu.Lock()
	fc, ok := d.fences[f]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown fence %d", f)
	}
	if fc.signaled {
		d.mu.Unlock()
		return nil
	}
	ch := fc.ch
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return vkdecoder.ErrTimeout
	}
}

// FenceStatus implements vkdecoder.DeviceContext.
func (d *Device) FenceStatus(f vkdecoder.Fence) (vkdecoder.FenceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences[f]
	if !ok {
		return vkdecoder.FenceNotReady, fmt.Errorf("unknown fence %d", f)
	}
	if fc.signaled {
		return vkdecoder.FenceSignaled, nil
	}
	return vkdecoder.FenceNotReady, nil
}

// ResetFence implements vkdecoder.DeviceContext.
func (d *Device) ResetFence(f vkdecoder.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences[f]
	if !ok {
		return fmt.Errorf("unknown fence %d", f)
	}
	if fc.pending {
		return fmt.Errorf("fence %d is in use by a pending submission", f)
	}
	fc.reset()
	return nil
}

// CreateSemaphore creates an unsignaled binary semaphore.
func (d *Device) CreateSemaphore() (vkdecoder.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := vkdecoder.Semaphore(d.handle())
	d.semaphores[s] = false
	return s, nil
}

// DestroySemaphore destroys a semaphore.
func (d *Device) DestroySemaphore(s vkdecoder.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.semaphores, s)
}

// SignalSemaphore signals a semaphore, as the submission of a frame consumer would.
func (d *Device) SignalSemaphore(s vkdecoder.Semaphore) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.semaphores[s]; !ok {
		return fmt.Errorf("unknown semaphore %d", s)
	}
	d.semaphores[s] = true
	return nil
}

// SemaphoreSignaled reports whether a semaphore is signaled.
func (d *Device) SemaphoreSignaled(s vkdecoder.Semaphore) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.semaphores[s]
}

// CreateQueryPool creates count decode status queries.
func (d *Device) CreateQueryPool(count uint32, _ *vkdecoder.VideoProfile) (vkdecoder.QueryPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := vkdecoder.QueryPool(d.handle())
	d.queryPools[p] = make([]vkdecoder.QueryResultStatus, count)
	return p, nil
}

// DestroyQueryPool destroys a query pool.
func (d *Device) DestroyQueryPool(p vkdecoder.QueryPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.queryPools, p)
}

// SetQueryResult sets the status later submitted decode queries end with.
func (d *Device) SetQueryResult(status vkdecoder.QueryResultStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryResult = status
}

// DecodeQueryStatus implements vkdecoder.DeviceContext.
func (d *Device) DecodeQueryStatus(p vkdecoder.QueryPool, query uint32) (vkdecoder.QueryResultStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	results, ok := d.queryPools[p]
	if !ok || query >= uint32(len(results)) { //nolint:gosec
		return vkdecoder.QueryResultStatusError, fmt.Errorf("unknown query %d of pool %d", query, p)
	}
	return results[query], nil
}

// QueueSubmit implements vkdecoder.DeviceContext. Commands take effect immediately;
// the fence stays pending when fences are held.
func (d *Device) QueueSubmit(submit *vkdecoder.SubmitInfo, f vkdecoder.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpQueueSubmit); err != nil {
		return err
	}

	var fc *fence
	if f != 0 {
		var ok bool
		if fc, ok = d.fences[f]; !ok {
			return fmt.Errorf("unknown fence %d", f)
		}
		if fc.signaled || fc.pending {
			return fmt.Errorf("fence %d submitted while in use", f)
		}
	}
	if len(submit.WaitSemaphores) != len(submit.WaitStages) {
		return fmt.Errorf("%d wait semaphores with %d stages", len(submit.WaitSemaphores), len(submit.WaitStages))
	}
	for _, s := range submit.WaitSemaphores {
		if signaled, ok := d.semaphores[s]; !ok || !signaled {
			return fmt.Errorf("wait on semaphore %d that is never signaled", s)
		}
	}

	sub := Submission{
		Info: vkdecoder.SubmitInfo{
			WaitSemaphores:   slices.Clone(submit.WaitSemaphores),
			WaitStages:       slices.Clone(submit.WaitStages),
			CommandBuffers:   slices.Clone(submit.CommandBuffers),
			SignalSemaphores: slices.Clone(submit.SignalSemaphores),
		},
		Fence: f,
	}
	for _, cb := range submit.CommandBuffers {
		c, ok := d.commandBuffers[cb]
		if !ok || c.state != cbExecutable {
			return fmt.Errorf("command buffer %d is not executable", cb)
		}
		if err := d.validate(c.commands); err != nil {
			return err
		}
		sub.Commands = append(sub.Commands, slices.Clone(c.commands))
	}

	for _, cmds := range sub.Commands {
		d.execute(cmds)
	}
	for _, s := range submit.WaitSemaphores {
		d.semaphores[s] = false
	}
	for _, s := range submit.SignalSemaphores {
		if _, ok := d.semaphores[s]; ok {
			d.semaphores[s] = true
		}
	}
	if fc != nil {
		if d.cfg.HoldFences {
			fc.pending = true
		} else {
			fc.signal()
		}
	}
	d.submissions = append(d.submissions, sub)
	logger.Tracef(d, "Submitted %d command buffers fence=%d", len(submit.CommandBuffers), f)
	return nil
}

func (d *Device) validate(cmds []Command) error {
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CmdBeginVideoCoding:
			if _, ok := d.sessions[cmd.Begin.Session]; !ok {
				return fmt.Errorf("coding scope on unknown session %d", cmd.Begin.Session)
			}
			if _, ok := d.parameters[cmd.Begin.Parameters]; cmd.Begin.Parameters != 0 && !ok {
				return fmt.Errorf("coding scope with unknown session parameters %d", cmd.Begin.Parameters)
			}
		case CmdDecodeVideo:
			buf, ok := d.bitstreams[cmd.Decode.SrcBuffer]
			if !ok {
				return fmt.Errorf("decode from unknown buffer %d", cmd.Decode.SrcBuffer)
			}
			if cmd.Decode.SrcBufferOffset+cmd.Decode.SrcBufferRange > buf.MaxSize() {
				return fmt.Errorf("decode range %d+%d overruns buffer %d of %d bytes", cmd.Decode.SrcBufferOffset,
					cmd.Decode.SrcBufferRange, cmd.Decode.SrcBuffer, buf.MaxSize())
			}
		default:
		}
	}
	return nil
}

func (d *Device) execute(cmds []Command) {
	for _, cmd := range cmds {
		results, ok := d.queryPools[cmd.QueryPool]
		if !ok {
			continue
		}
		switch cmd.Kind {
		case CmdResetQueryPool:
			for q := cmd.Query; q < cmd.Query+cmd.Count && q < uint32(len(results)); q++ { //nolint:gosec
				results[q] = vkdecoder.QueryResultStatusNotReady
			}
		case CmdEndQuery:
			if cmd.Query < uint32(len(results)) { //nolint:gosec
				results[cmd.Query] = d.queryResult
			}
		default:
		}
	}
}

// Submissions returns every submission so far.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.submissions)
}
