package vm

import "context"

// Run repeatedly invokes Step until the VM stops being StatusRunning, ctx
// is cancelled, or ceiling steps have executed (ceiling <= 0 means
// unbounded). A ceiling lets a caller driving this from an event loop (the
// debugger's "run" command) guarantee it gets control back in bounded
// wall-clock time; Status tells the caller afterward whether that happened
// because the ceiling was hit (still StatusRunning) or because the VM
// actually stopped.
func (v *VM) Run(ctx context.Context, ceiling int) error {
	steps := 0
	for v.Status == StatusRunning {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		cont, err := v.Step()
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}

		steps++
		if ceiling > 0 && steps >= ceiling {
			return nil
		}
	}
	return nil
}
