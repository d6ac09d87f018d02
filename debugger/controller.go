// Package debugger wraps a vm.VM with the controls and read-only views a
// debugger front end needs: stepping, a breakpoint set, a bounded snapshot
// ring for undoing steps, and plain-struct projections of machine state
// decoupled from any particular renderer.
package debugger

import (
	"context"

	"synacorvm/disasm"
	"synacorvm/vm"
)

// RedrawInterval caps how many steps a single Run call executes before
// returning control to the caller, mirroring the reference debugger's
// periodic mid-run screen refresh. Run returns every RedrawInterval steps
// even if nothing stopped the VM, so a front end never blocks longer than
// that between frames.
const RedrawInterval = 1000

// SnapshotRingCapacity bounds how many steps Rewind can undo. It exists so
// a long debugging session doesn't grow memory unboundedly; it is not a
// correctness requirement of the VM itself.
const SnapshotRingCapacity = 256

// Controller owns one VM and everything needed to drive it interactively.
type Controller struct {
	VM          *vm.VM
	Breakpoints map[vm.Word]bool

	sink      *vm.BufferSink
	outputLog string

	ring     []*vm.State
	ringHead int
}

// NewController wires a VM with break-on-input already implied: callers
// constructing the VM for use under a Controller should pass breakOnInput
// true, since the debugger always wants IN to suspend rather than block.
func NewController(v *vm.VM, sink *vm.BufferSink) *Controller {
	return &Controller{
		VM:          v,
		Breakpoints: make(map[vm.Word]bool),
		sink:        sink,
	}
}

func (c *Controller) drain() {
	if c.sink == nil {
		return
	}
	c.outputLog += c.sink.Drain()
}

// OutputLog returns everything the guest program has written to stdout
// since the Controller was created.
func (c *Controller) OutputLog() string {
	return c.outputLog
}

func (c *Controller) pushSnapshot() {
	c.ring = append(c.ring, c.VM.GetState())
	if len(c.ring) > SnapshotRingCapacity {
		c.ring = c.ring[1:]
	}
}

// Rewind restores the most recent pushed snapshot, undoing the last Step
// (or the last step of the last Run slice). It reports false if the ring
// is empty.
func (c *Controller) Rewind() bool {
	if len(c.ring) == 0 {
		return false
	}
	last := c.ring[len(c.ring)-1]
	c.ring = c.ring[:len(c.ring)-1]
	c.VM.Restore(last)
	return true
}

// Step executes exactly one instruction and records a snapshot of the
// state beforehand so it can be rewound.
func (c *Controller) Step() error {
	c.pushSnapshot()
	_, err := c.VM.Step()
	c.drain()
	return err
}

// Run executes instructions until the VM stops (halts, suspends on input,
// or errors), a breakpoint address is reached, or RedrawInterval steps
// have executed — whichever comes first. The breakpoint at the VM's
// starting position is ignored for the first step of each slice, matching
// the reference debugger's "always take one step, then check" order, so
// resuming from a line with a breakpoint set on it doesn't instantly
// re-trigger.
//
// The returned stopped flag tells the caller whether this slice ended for
// a reason worth surfacing (finished, suspended, breakpoint, error) versus
// merely hitting the redraw ceiling while still running — in the latter
// case the caller should call Run again to keep going.
func (c *Controller) Run(ctx context.Context) (stopped bool, err error) {
	for i := 0; i < RedrawInterval; i++ {
		if c.VM.Status != vm.StatusRunning {
			return true, nil
		}
		if i > 0 && c.Breakpoints[c.VM.PC] {
			return true, nil
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return true, ctx.Err()
			default:
			}
		}

		c.pushSnapshot()
		cont, stepErr := c.VM.Step()
		c.drain()
		if stepErr != nil {
			return true, stepErr
		}
		if !cont {
			return true, nil
		}
	}
	return false, nil
}

// ToggleBreakpoint flips whether addr is a breakpoint.
func (c *Controller) ToggleBreakpoint(addr vm.Word) {
	if c.Breakpoints[addr] {
		delete(c.Breakpoints, addr)
	} else {
		c.Breakpoints[addr] = true
	}
}

// SubmitInput answers a VM suspended on IN by queuing line in its input
// buffer. It runs no steps and drains no output itself; the caller's next
// Step or Run does both.
func (c *Controller) SubmitInput(line string) {
	c.VM.SubmitInput(line)
}

// StatusView is a read-only snapshot of machine status for display.
type StatusView struct {
	Position    vm.Word
	Cycles      uint64
	Status      string
	Breakpoints []vm.Word
}

func (c *Controller) Status() StatusView {
	bps := make([]vm.Word, 0, len(c.Breakpoints))
	for addr := range c.Breakpoints {
		bps = append(bps, addr)
	}
	return StatusView{
		Position:    c.VM.PC,
		Cycles:      c.VM.Cycle,
		Status:      c.VM.Status.String(),
		Breakpoints: bps,
	}
}

// RegistersView is a read-only snapshot of the register file.
type RegistersView struct {
	Values [vm.NumRegisters]vm.Word
}

func (c *Controller) Registers() RegistersView {
	return RegistersView{Values: c.VM.Registers}
}

// StackView is a read-only snapshot of the stack, bottom to top.
type StackView struct {
	Values []vm.Word
}

func (c *Controller) Stack() StackView {
	return StackView{Values: append([]vm.Word(nil), c.VM.Stack...)}
}

// DisassemblyLine is one row of the disassembly listing.
type DisassemblyLine struct {
	Address      vm.Word
	Text         string
	IsCurrent    bool
	IsBreakpoint bool
}

// DisassemblyView is a window of disassembled lines around the current PC.
type DisassemblyView struct {
	Lines []DisassemblyLine
}

// Disassembly rebuilds the full-program sweep and returns a window of up
// to 2*radius+1 lines centered (as closely as the ends of memory allow) on
// the current PC — the same "reset to near the VM's position" behavior as
// the reference debugger's DisassemblyWalker.reset.
func (c *Controller) Disassembly(radius int) DisassemblyView {
	records := disasm.Disassemble(&c.VM.Memory)

	focus := 0
	for i, rec := range records {
		if rec.Address == c.VM.PC {
			focus = i
			break
		}
	}

	start := focus - radius
	if start < 0 {
		start = 0
	}
	end := focus + radius + 1
	if end > len(records) {
		end = len(records)
	}

	lines := make([]DisassemblyLine, 0, end-start)
	for _, rec := range records[start:end] {
		lines = append(lines, DisassemblyLine{
			Address:      rec.Address,
			Text:         rec.String(),
			IsCurrent:    rec.Address == c.VM.PC,
			IsBreakpoint: c.Breakpoints[rec.Address],
		})
	}
	return DisassemblyView{Lines: lines}
}
