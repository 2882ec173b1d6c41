package hal

import (
	"fmt"
	"log"
	"time"

	"github.com/JordanYates/nrf-wifi/rpu"
)

// Wake brings the RPU out of its low-power state. It is a no-op
// success before the firmware has booted (sleep/wake only exists after
// boot) and when already awake. Otherwise the wake line is asserted, a
// fixed settle delay applied, and the power-status register polled
// until both the power-state and ready-state bits are set, bounded by
// Config.WakeTimeout.
//
// The idle-sleep timer is (re)armed on every call past the boot check,
// success or failure, so an asserted wake line always idles out. A
// timeout leaves the state Asleep and, when recovery is enabled,
// schedules the recovery work unit.
func (d *DeviceCtx) Wake() error {
	if d == nil {
		return ErrNilDevice
	}

	d.psLock.Lock()
	defer d.psLock.Unlock()

	if !d.fwBooted {
		return nil
	}

	defer d.psTimer.Schedule(d.hpriv.cfg.IdleSleepTimeout)

	if PowerState(d.psState.Load()) == PowerAwake {
		return nil
	}

	if err := d.bus.WakeAssert(); err != nil {
		return fmt.Errorf("hal: asserting wake line: %w", err)
	}
	d.wakeAsserted = true
	d.lastAsserted = time.Now()

	// Settle before the first status read; polling immediately races
	// the RPU's own wake sequencing.
	time.Sleep(d.hpriv.cfg.WakeSettleDelay)

	start := time.Now()
	for {
		val, err := d.bus.PSStatus()
		if err == nil && val&rpu.PSReadyMask == rpu.PSReadyMask {
			break
		}

		if time.Since(start) >= d.hpriv.cfg.WakeTimeout {
			log.Printf("hal: RPU not ready within %v (status 0x%X, want mask 0x%X)",
				d.hpriv.cfg.WakeTimeout, val, rpu.PSReadyMask)
			if d.hpriv.cfg.Recovery {
				d.recoveryWork.Schedule()
			}
			return fmt.Errorf("%w: RPU wake handshake", ErrTimeout)
		}

		time.Sleep(d.hpriv.cfg.WakePollInterval)
	}

	d.psState.Store(int32(PowerAwake))
	d.noteSleepOpportunity()

	return nil
}

// psSleep is the idle-sleep timer callback and the only path that
// moves the power state to Asleep. It deasserts the wake line and
// records the deassert timestamp for the recovery heuristic.
func (d *DeviceCtx) psSleep() {
	d.psLock.Lock()
	defer d.psLock.Unlock()

	if err := d.bus.WakeDeassert(); err != nil {
		log.Printf("hal: deasserting wake line: %v", err)
	}

	d.wakeAsserted = false
	d.lastDeasserted = time.Now()
	d.psState.Store(int32(PowerAsleep))
}

// noteSleepOpportunity records whether the window since the last
// deassert was long enough for the RPU to actually have slept.
// Recovery logic uses the absence of such windows to judge whether the
// RPU is stuck awake. Called with the power lock held.
func (d *DeviceCtx) noteSleepOpportunity() {
	if d.lastDeasserted.IsZero() {
		return
	}

	if time.Since(d.lastDeasserted) > d.hpriv.cfg.MinSleepOpportunity {
		d.lastSleepOpp = d.lastDeasserted
	}
}

// PowerState returns the current power state. The read is lock-free.
func (d *DeviceCtx) PowerState() PowerState {
	return PowerState(d.psState.Load())
}

// LastSleepOpportunity returns the most recent time the RPU had a
// genuine chance to sleep, and whether one has been observed at all.
func (d *DeviceCtx) LastSleepOpportunity() (time.Time, bool) {
	d.psLock.Lock()
	defer d.psLock.Unlock()

	return d.lastSleepOpp, !d.lastSleepOpp.IsZero()
}

// psDeinit kills the idle-sleep timer. Part of device removal.
func (d *DeviceCtx) psDeinit() {
	d.psTimer.Kill()
}
