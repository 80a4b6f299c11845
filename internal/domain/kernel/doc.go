// Package kernel is the composition root of matrix-os.
//
// A Kernel owns the message bus, the sandbox manager and the scheduler. It
// registers apps from serializable specs, runs the single render loop at a
// fixed cadence and exposes a small control API to hosting code. The render
// loop never blocks on an app: it polls a bounded batch of messages per
// tick, asks the scheduler for the authoritative frame and hands it to the
// output sink.
//
// Example Usage:
//
//	k, err := kernel.New(kernel.Options{Registry: apps.Builtin(), Sink: sink, Logger: logger})
//	if err != nil {
//		return err
//	}
//	if _, err := k.RegisterApp(app.MustSpec("dvd", nil), kernel.Placement{Duration: 10 * time.Second}); err != nil {
//		return err
//	}
//	return k.Run(ctx)
package kernel
