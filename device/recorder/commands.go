package recorder

import (
	"fmt"
	"slices"

	"github.com/ugparu/vkdecoder"
)

// CommandKind identifies a recorded command.
type CommandKind int

// Recorded command kinds.
const (
	CmdResetQueryPool CommandKind = iota
	CmdBeginVideoCoding
	CmdControlVideoCoding
	CmdPipelineBarrier
	CmdBeginQuery
	CmdDecodeVideo
	CmdEndQuery
	CmdEndVideoCoding
	CmdCopyImage
)

func (k CommandKind) String() string {
	switch k {
	case CmdResetQueryPool:
		return "ResetQueryPool"
	case CmdBeginVideoCoding:
		return "BeginVideoCoding"
	case CmdControlVideoCoding:
		return "ControlVideoCoding"
	case CmdPipelineBarrier:
		return "PipelineBarrier"
	case CmdBeginQuery:
		return "BeginQuery"
	case CmdDecodeVideo:
		return "DecodeVideo"
	case CmdEndQuery:
		return "EndQuery"
	case CmdEndVideoCoding:
		return "EndVideoCoding"
	case CmdCopyImage:
		return "CopyImage"
	}
	return "Unknown"
}

// CopyImage holds the arguments of an image copy.
type CopyImage struct {
	Src       vkdecoder.Image
	SrcLayout vkdecoder.ImageLayout
	Dst       vkdecoder.Image
	DstLayout vkdecoder.ImageLayout
	Regions   []vkdecoder.ImageCopy
}

// Command is one recorded command. Only the fields of its kind are set.
type Command struct {
	Kind      CommandKind
	Begin     *vkdecoder.BeginCodingInfo
	Control   vkdecoder.VideoCodingControl
	Barrier   *vkdecoder.DependencyInfo
	Decode    *vkdecoder.DecodeInfo
	Copy      *CopyImage
	QueryPool vkdecoder.QueryPool
	Query     uint32
	Count     uint32
}

func (c Command) String() string {
	return c.Kind.String()
}

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

type commandBuffer struct {
	state    cbState
	commands []Command
	invalid  error
}

// AllocateCommandBuffers implements vkdecoder.DeviceContext.
func (d *Device) AllocateCommandBuffers(count int) ([]vkdecoder.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpAllocateCommands); err != nil {
		return nil, err
	}
	cbs := make([]vkdecoder.CommandBuffer, 0, count)
	for range count {
		cb := vkdecoder.CommandBuffer(d.handle())
		d.commandBuffers[cb] = &commandBuffer{}
		cbs = append(cbs, cb)
	}
	return cbs, nil
}

// FreeCommandBuffers implements vkdecoder.DeviceContext.
func (d *Device) FreeCommandBuffers(cbs []vkdecoder.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range cbs {
		delete(d.commandBuffers, cb)
	}
}

// CommandBuffers returns the number of allocated command buffers.
func (d *Device) CommandBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commandBuffers)
}

// BeginCommandBuffer implements vkdecoder.CommandRecorder. Previous contents are discarded.
func (d *Device) BeginCommandBuffer(cb vkdecoder.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.commandBuffers[cb]
	if !ok {
		return fmt.Errorf("unknown command buffer %d", cb)
	}
	if c.state == cbRecording {
		return fmt.Errorf("command buffer %d is already recording", cb)
	}
	*c = commandBuffer{state: cbRecording}
	return nil
}

// EndCommandBuffer implements vkdecoder.CommandRecorder.
func (d *Device) EndCommandBuffer(cb vkdecoder.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.commandBuffers[cb]
	if !ok {
		return fmt.Errorf("unknown command buffer %d", cb)
	}
	if c.state != cbRecording {
		return fmt.Errorf("command buffer %d is not recording", cb)
	}
	if c.invalid != nil {
		return c.invalid
	}
	c.state = cbExecutable
	return nil
}

func (d *Device) record(cb vkdecoder.CommandBuffer, cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.commandBuffers[cb]
	if !ok {
		return
	}
	if c.state != cbRecording && c.invalid == nil {
		c.invalid = fmt.Errorf("%v recorded outside of a recording scope of %d", cmd.Kind, cb)
		return
	}
	c.commands = append(c.commands, cmd)
}

// Commands returns the commands recorded in cb since its last begin.
func (d *Device) Commands(cb vkdecoder.CommandBuffer) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.commandBuffers[cb]; ok {
		return slices.Clone(c.commands)
	}
	return nil
}

// CmdResetQueryPool implements vkdecoder.CommandRecorder.
func (d *Device) CmdResetQueryPool(cb vkdecoder.CommandBuffer, pool vkdecoder.QueryPool, first, count uint32) {
	d.record(cb, Command{Kind: CmdResetQueryPool, QueryPool: pool, Query: first, Count: count})
}

// CmdBeginVideoCoding implements vkdecoder.CommandRecorder.
func (d *Device) CmdBeginVideoCoding(cb vkdecoder.CommandBuffer, info *vkdecoder.BeginCodingInfo) {
	begin := *info
	begin.ReferenceSlots = slices.Clone(info.ReferenceSlots)
	d.record(cb, Command{Kind: CmdBeginVideoCoding, Begin: &begin})
}

// CmdControlVideoCoding implements vkdecoder.CommandRecorder.
func (d *Device) CmdControlVideoCoding(cb vkdecoder.CommandBuffer, control vkdecoder.VideoCodingControl) {
	d.record(cb, Command{Kind: CmdControlVideoCoding, Control: control})
}

// CmdPipelineBarrier implements vkdecoder.CommandRecorder.
func (d *Device) CmdPipelineBarrier(cb vkdecoder.CommandBuffer, dep *vkdecoder.DependencyInfo) {
	barrier := vkdecoder.DependencyInfo{
		ByRegion:       dep.ByRegion,
		MemoryBarriers: slices.Clone(dep.MemoryBarriers),
		BufferBarriers: slices.Clone(dep.BufferBarriers),
		ImageBarriers:  slices.Clone(dep.ImageBarriers),
	}
	d.record(cb, Command{Kind: CmdPipelineBarrier, Barrier: &barrier})
}

// CmdBeginQuery implements vkdecoder.CommandRecorder.
func (d *Device) CmdBeginQuery(cb vkdecoder.CommandBuffer, pool vkdecoder.QueryPool, query uint32) {
	d.record(cb, Command{Kind: CmdBeginQuery, QueryPool: pool, Query: query})
}

// CmdDecodeVideo implements vkdecoder.CommandRecorder.
func (d *Device) CmdDecodeVideo(cb vkdecoder.CommandBuffer, info *vkdecoder.DecodeInfo) {
	decode := *info
	decode.ReferenceSlots = slices.Clone(info.ReferenceSlots)
	if info.SetupReferenceSlot != nil {
		setup := *info.SetupReferenceSlot
		decode.SetupReferenceSlot = &setup
	}
	d.record(cb, Command{Kind: CmdDecodeVideo, Decode: &decode})
}

// CmdEndQuery implements vkdecoder.CommandRecorder.
func (d *Device) CmdEndQuery(cb vkdecoder.CommandBuffer, pool vkdecoder.QueryPool, query uint32) {
	d.record(cb, Command{Kind: CmdEndQuery, QueryPool: pool, Query: query})
}

// CmdEndVideoCoding implements vkdecoder.CommandRecorder.
func (d *Device) CmdEndVideoCoding(cb vkdecoder.CommandBuffer) {
	d.record(cb, Command{Kind: CmdEndVideoCoding})
}

// CmdCopyImage implements vkdecoder.CommandRecorder.
func (d *Device) CmdCopyImage(cb vkdecoder.CommandBuffer, src vkdecoder.Image, srcLayout vkdecoder.ImageLayout,
	dst vkdecoder.Image, dstLayout vkdecoder.ImageLayout, regions []vkdecoder.ImageCopy,
) {
	d.record(cb, Command{Kind: CmdCopyImage, Copy: &CopyImage{
		Src:       src,
		SrcLayout: srcLayout,
		Dst:       dst,
		DstLayout: dstLayout,
		Regions:   slices.Clone(regions),
	}})
}
