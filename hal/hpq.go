package hal

import (
	"fmt"
	"log"

	"github.com/JordanYates/nrf-wifi/rpu"
)

// hpqIsEmpty reads the hardware "available" register of a queue. A
// failed read is reported as empty: the caller then retries until its
// own timeout instead of acting on garbage.
func (d *DeviceCtx) hpqIsEmpty(q *rpu.HPQ) bool {
	val, err := d.bus.ReadReg(q.DequeueAddr)
	if err != nil {
		log.Printf("hal: HPQ dequeue-address read failed: %v", err)
		return true
	}

	return val == 0
}

// hpqEnqueue posts one buffer address onto a hardware queue.
func (d *DeviceCtx) hpqEnqueue(q *rpu.HPQ, addr uint32) error {
	if err := d.bus.WriteReg(q.EnqueueAddr, addr); err != nil {
		return fmt.Errorf("hal: HPQ enqueue of 0x%08X: %w", addr, err)
	}

	return nil
}

// hpqDequeue pops one buffer address from a hardware queue. The read
// itself advances the hardware ring.
func (d *DeviceCtx) hpqDequeue(q *rpu.HPQ) (uint32, error) {
	val, err := d.bus.ReadReg(q.DequeueAddr)
	if err != nil {
		return 0, fmt.Errorf("hal: HPQ dequeue: %w", err)
	}

	return val, nil
}
