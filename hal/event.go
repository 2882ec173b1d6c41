package hal

import (
	"fmt"
	"log"

	"github.com/rs/xid"
)

// IRQHandler services the RPU host interrupt. It runs with the
// interrupt-safe lock held: while the device is disabled the interrupt
// is acknowledged and dropped; otherwise the transport classifies the
// cause, pending events are pulled into the local queue, and either
// the recovery or the event-processing work unit is scheduled.
// Scheduling is coalescing, so a burst of interrupts results in a
// single deferred run.
func (d *DeviceCtx) IRQHandler() error {
	if d == nil {
		return ErrNilDevice
	}

	d.rxLock.Lock()
	defer d.rxLock.Unlock()

	if d.status != StatusEnabled {
		return nil
	}

	recovery, err := d.bus.ProcessInterrupt(d)
	if err != nil {
		return fmt.Errorf("hal: interrupt processing: %w", err)
	}

	if recovery {
		d.recoveryWork.Schedule()
		return nil
	}

	d.eventWork.Schedule()

	return nil
}

// DeliverEvent queues one event payload for deferred delivery. It is
// only called from the transport's interrupt processing, while
// IRQHandler holds the interrupt-safe lock on its behalf.
func (d *DeviceCtx) DeliverEvent(data []byte) {
	d.eventQ.Push(&Msg{
		ID:   xid.New().String(),
		Data: append([]byte(nil), data...),
	})
}

// ProcessEvents is the event-processing deferred work: it drains the
// local event queue, invoking the upper-layer callback once per entry
// in arrival order. A callback failure is logged and remembered but
// does not stop delivery of the remaining entries.
func (d *DeviceCtx) ProcessEvents() error {
	var firstErr error

	for {
		d.rxLock.Lock()
		m := d.eventQ.Pop()
		d.rxLock.Unlock()

		if m == nil {
			return firstErr
		}

		if err := d.hpriv.eventH.HandleEvent(d, m.Data); err != nil {
			log.Printf("hal: event callback failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}

		if d.NumHooks() > 0 {
			d.InvokeHook(HookCtx{
				Dev: d,
				Pos: HookPosEventDeliver,
				Msg: m,
			})
		}
	}
}

// drainEvents discards every queued event without invoking the
// callback. Used during teardown, after the point where the callback
// is no longer safe to run.
func (d *DeviceCtx) drainEvents() {
	for {
		d.rxLock.Lock()
		m := d.eventQ.Pop()
		d.rxLock.Unlock()

		if m == nil {
			return
		}
	}
}

// processRecovery is the recovery deferred work. It notifies the
// registered recovery handler; with no handler registered the
// condition is only logged.
func (d *DeviceCtx) processRecovery() {
	if d.hpriv.recoveryH == nil {
		log.Printf("hal: RPU recovery needed but no recovery handler registered")
		return
	}

	if err := d.hpriv.recoveryH.HandleRecovery(d); err != nil {
		log.Printf("hal: recovery callback failed: %v", err)
	}
}
