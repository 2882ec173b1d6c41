package hal

import (
	"fmt"
	"log"
	"time"

	"github.com/JordanYates/nrf-wifi/rpu"
)

// ResetProc performs a pulsed soft reset of the selected processor:
// write 1 to its control register, poll the same register until it
// self-clears, then poll the processor's boot-exception address until
// it reads 1, meaning the processor restarted from its boot-exception
// vector and parked on its wait instruction. The current-processor
// selector is restored to LMAC on exit regardless of outcome.
func (d *DeviceCtx) ResetProc(proc rpu.ProcType) error {
	if d == nil {
		return ErrNilDevice
	}

	ctrl, bootExcp, err := rpu.CtrlReg(proc)
	if err != nil {
		return err
	}

	d.SetProcCtx(proc)
	defer d.SetProcCtx(rpu.ProcTypeLMAC)

	if err := d.bus.WriteReg(ctrl, 1); err != nil {
		return fmt.Errorf("hal: pulsed soft reset of %v: %w", proc, err)
	}

	if err := d.pollReg(ctrl, 1, 0); err != nil {
		return fmt.Errorf("hal: %v did not come out of reset: %w", proc, err)
	}

	if err := d.pollReg(bootExcp, 1, 1); err != nil {
		return fmt.Errorf("hal: %v did not reach boot exception: %w", proc, err)
	}

	return nil
}

// pollReg reads a register at Config.RegPollInterval spacing until the
// masked value equals want, failing after Config.RegPollAttempts
// reads. Read errors are logged and count as a failed attempt.
func (d *DeviceCtx) pollReg(addr, mask, want uint32) error {
	cfg := d.hpriv.cfg

	for i := 0; i < cfg.RegPollAttempts; i++ {
		val, err := d.bus.ReadReg(addr)
		if err != nil {
			log.Printf("hal: poll read of 0x%08X failed: %v", addr, err)
		} else if val&mask == want {
			return nil
		}

		time.Sleep(cfg.RegPollInterval)
	}

	return fmt.Errorf("%w: polling 0x%08X for 0x%X (mask 0x%X)",
		ErrTimeout, addr, want, mask)
}

// CheckBootSignature polls the processor's boot-signature location in
// shared memory until it carries the expected value, bounded by
// Config.BootTimeout at Config.BootPollInterval spacing. Exactly
// timeout/interval reads are attempted before failure. The
// current-processor selector is restored to LMAC on exit regardless of
// outcome.
func (d *DeviceCtx) CheckBootSignature(proc rpu.ProcType) error {
	if d == nil {
		return ErrNilDevice
	}

	addr, want, err := rpu.BootSigAddr(proc)
	if err != nil {
		return err
	}

	d.SetProcCtx(proc)
	defer d.SetProcCtx(rpu.ProcTypeLMAC)

	cfg := d.hpriv.cfg
	attempts := int(cfg.BootTimeout / cfg.BootPollInterval)

	var val uint32
	for i := 0; i < attempts; i++ {
		val, err = d.readMemU32(addr)
		if err != nil {
			log.Printf("hal: boot signature read for %v failed: %v", proc, err)
		} else if val == want {
			return nil
		}

		time.Sleep(cfg.BootPollInterval)
	}

	log.Printf("hal: boot signature check failed for %v: expected 0x%X, got 0x%X",
		proc, want, val)

	return fmt.Errorf("%w: boot signature for %v", ErrTimeout, proc)
}
