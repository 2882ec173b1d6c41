package hal

import (
	"fmt"
	"log"
	"time"

	"github.com/rs/xid"

	"github.com/JordanYates/nrf-wifi/rpu"
)

// SendCtrlCommand transmits a control command to the RPU. The command
// is split into fragments of at most Config.MaxCmdSize bytes, queued
// in order, and drained onto the wire one RPU-supplied buffer at a
// time. The pipeline lock is held across the whole enqueue+drain cycle
// so concurrent submissions never interleave fragments.
//
// A failed call means some prefix of the command may already have been
// delivered; fragments posted before the failure are not retried or
// rolled back, and fragments not yet posted stay queued for the next
// submission. Callers needing exactly-once semantics must sequence
// above this layer.
func (d *DeviceCtx) SendCtrlCommand(data []byte) error {
	if d == nil {
		return ErrNilDevice
	}

	d.cmdLock.Lock()
	defer d.cmdLock.Unlock()

	if err := d.Wake(); err != nil {
		return fmt.Errorf("hal: wake before command: %w", err)
	}

	d.queueCmd(data)

	return d.processCmdQueue()
}

// PostRXBuffer hands a receive buffer back to the RPU on the given
// receive queue. The posting populates the busy queue only; no
// doorbell trigger is written for RX buffers.
func (d *DeviceCtx) PostRXBuffer(queueID int, addr uint32) error {
	if d == nil {
		return ErrNilDevice
	}

	if queueID < 0 || queueID >= rpu.MaxRxQueues {
		return fmt.Errorf("%w: %d", ErrInvalidQueueID, queueID)
	}

	d.cmdLock.Lock()
	defer d.cmdLock.Unlock()

	if err := d.Wake(); err != nil {
		return fmt.Errorf("hal: wake before RX buffer post: %w", err)
	}

	return d.msgPost(MsgTypeCmdDataRX, queueID, addr)
}

// queueCmd fragments the command and appends the fragments to the
// local command queue in order. An empty command still produces one
// (empty) fragment.
func (d *DeviceCtx) queueCmd(data []byte) {
	max := d.hpriv.cfg.MaxCmdSize

	for {
		size := len(data)
		if size > max {
			size = max
		}

		d.cmdQ.Push(&Msg{
			ID:   xid.New().String(),
			Data: append([]byte(nil), data[:size]...),
		})

		data = data[size:]
		if len(data) == 0 {
			return
		}
	}
}

// processCmdQueue drains the local command queue in order. Any failure
// aborts the drain: the failed fragment is dropped, fragments behind
// it remain queued.
func (d *DeviceCtx) processCmdQueue() error {
	for {
		m := d.cmdQ.Pop()
		if m == nil {
			return nil
		}

		if err := d.readyWait(MsgTypeCmdCtrl); err != nil {
			log.Printf("hal: no free command buffer from RPU: %v", err)
			return err
		}

		if err := d.msgWrite(MsgTypeCmdCtrl, m); err != nil {
			log.Printf("hal: writing command to RPU: %v", err)
			return err
		}
	}
}

// rpuReady reports whether the RPU is offering a buffer for the given
// message type.
func (d *DeviceCtx) rpuReady(msgType MsgType) bool {
	if msgType != MsgTypeCmdCtrl {
		return false
	}

	return !d.hpqIsEmpty(&d.rpuInfo.hpq.CmdAvlQueue)
}

// readyWait busy-polls until the RPU offers a command buffer, bounded
// by Config.ReadyWaitTimeout. The hardware exposes no blocking wait,
// so this spin is the only backpressure available.
func (d *DeviceCtx) readyWait(msgType MsgType) error {
	if msgType != MsgTypeCmdCtrl {
		return fmt.Errorf("%w: %d", ErrInvalidMsgType, msgType)
	}

	start := time.Now()
	for !d.rpuReady(msgType) {
		if time.Since(start) >= d.hpriv.cfg.ReadyWaitTimeout {
			return fmt.Errorf("%w: waiting for RPU buffer (msg type %d)",
				ErrTimeout, msgType)
		}
	}

	return nil
}

// msgWrite moves one fragment onto the wire: dequeue the buffer the
// RPU is offering, copy the payload into it, and post the address on
// the busy queue.
func (d *DeviceCtx) msgWrite(msgType MsgType, m *Msg) error {
	addr, err := d.msgGetAddr(msgType)
	if err != nil {
		return err
	}

	if err := d.bus.WriteMem(addr, m.Data); err != nil {
		return fmt.Errorf("hal: copying command to 0x%08X: %w", addr, err)
	}

	if err := d.msgPost(msgType, 0, addr); err != nil {
		return err
	}

	if d.NumHooks() > 0 {
		d.InvokeHook(HookCtx{
			Dev:  d,
			Pos:  HookPosCmdPost,
			Msg:  m,
			Addr: addr,
		})
	}

	return nil
}

// msgGetAddr asks the RPU for the buffer address the next message of
// this type must be copied to.
func (d *DeviceCtx) msgGetAddr(msgType MsgType) (uint32, error) {
	if msgType != MsgTypeCmdCtrl {
		return 0, fmt.Errorf("%w: %d", ErrInvalidMsgType, msgType)
	}

	return d.hpqDequeue(&d.rpuInfo.hpq.CmdAvlQueue)
}

// msgPost publishes a populated buffer address on the matching busy
// queue and, for everything except RX-buffer postings, rings the
// doorbell.
func (d *DeviceCtx) msgPost(msgType MsgType, queueID int, addr uint32) error {
	if queueID < 0 || queueID >= rpu.MaxRxQueues {
		return fmt.Errorf("%w: %d", ErrInvalidQueueID, queueID)
	}

	var busy *rpu.HPQ

	switch msgType {
	case MsgTypeCmdCtrl, MsgTypeCmdDataTX:
		busy = &d.rpuInfo.hpq.CmdBusyQueue
	case MsgTypeCmdDataRX:
		busy = &d.rpuInfo.hpq.RxBufBusyQueue[queueID]
	default:
		return fmt.Errorf("%w: %d", ErrInvalidMsgType, msgType)
	}

	if err := d.hpqEnqueue(busy, addr); err != nil {
		return err
	}

	if msgType != MsgTypeCmdDataRX {
		return d.msgTrigger()
	}

	return nil
}

// msgTrigger rings the doorbell: the monotonic command counter OR'd
// with the fixed marker, so the firmware can spot reordered or
// duplicated triggers. The counter advances only after a successful
// write.
func (d *DeviceCtx) msgTrigger() error {
	err := d.bus.WriteReg(rpu.RegIntToMCUCtrl, d.numCmds|rpu.CmdTriggerMark)
	if err != nil {
		return fmt.Errorf("hal: doorbell write: %w", err)
	}

	d.numCmds++

	return nil
}
