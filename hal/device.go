package hal

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JordanYates/nrf-wifi/bal"
	"github.com/JordanYates/nrf-wifi/osal"
	"github.com/JordanYates/nrf-wifi/rpu"
)

// DeviceCtx is the per-device driver context. It is created by
// Priv.AddDevice, owned by the lifecycle operations, and referenced
// (never owned) by everything else. The bus holds a non-owning handle
// back to it solely to dispatch interrupts.
type DeviceCtx struct {
	HookableBase

	hpriv *Priv
	bus   bal.Bus

	// cmdLock serializes the full enqueue+drain cycle of a command
	// submission so concurrent callers cannot interleave fragments.
	cmdLock sync.Mutex
	cmdQ    *MsgQueue
	numCmds uint32

	// rxLock is the interrupt-safe lock: it protects status and the
	// event queue, and makes the interrupt handler and the deferred
	// drain paths mutually exclusive.
	rxLock sync.Mutex
	status Status
	eventQ *MsgQueue

	eventWork    osal.Tasklet
	recoveryWork osal.Tasklet

	// psLock protects power-state transitions; psState is additionally
	// atomic so PowerState() stays lock-free.
	psLock   sync.Mutex
	psState  atomic.Int32
	psTimer  osal.Timer
	fwBooted bool

	wakeAsserted   bool
	lastAsserted   time.Time
	lastDeasserted time.Time
	lastSleepOpp   time.Time

	curProc rpu.ProcType
	rpuInfo rpuInfo

	txBufAddrs []uint32
	rxBufAddrs [rpu.MaxRxQueues][]uint32
}

// rpuInfo caches the queue table and command-memory bases published by
// the firmware.
type rpuInfo struct {
	hpq       rpu.HPQInfo
	rxCmdBase uint32
	txCmdBase uint32
}

// Init brings the device up: it marks the firmware booted for power
// management, initializes the transport, reads the HPQ table and the
// RX command base out of shared memory, and enables interrupt
// processing.
func (d *DeviceCtx) Init() error {
	if d == nil {
		return ErrNilDevice
	}

	d.psLock.Lock()
	d.fwBooted = true
	d.psLock.Unlock()

	if err := d.bus.Init(); err != nil {
		return fmt.Errorf("hal: bus init: %w", err)
	}

	buf := make([]byte, rpu.HPQInfoSize)
	if err := d.bus.ReadMem(rpu.MemHPQInfo, buf); err != nil {
		return fmt.Errorf("hal: reading HPQ info: %w", err)
	}

	info, err := rpu.DecodeHPQInfo(buf)
	if err != nil {
		return err
	}
	d.rpuInfo.hpq = info

	rxBase, err := d.readMemU32(rpu.MemRxCmdBase)
	if err != nil {
		return fmt.Errorf("hal: reading RX cmd base: %w", err)
	}
	d.rpuInfo.rxCmdBase = rxBase
	d.rpuInfo.txCmdBase = rpu.MemTxCmdBase

	d.Enable()

	return nil
}

// Deinit disables interrupt processing, tears down the transport for
// this device, and discards any undelivered events.
func (d *DeviceCtx) Deinit() {
	d.Disable()
	d.bus.Deinit()
	d.drainEvents()
}

// Remove releases everything the device owns. The order matters: the
// deferred-work units are killed (waiting out in-flight runs) before
// any state they might touch is torn down.
func (d *DeviceCtx) Remove() {
	d.recoveryWork.Kill()
	d.eventWork.Kill()

	d.drainEvents()

	d.rxLock.Lock()
	d.eventQ.Clear()
	d.rxLock.Unlock()
	d.cmdQ.Clear()

	d.psDeinit()

	d.bus.Remove()

	d.txBufAddrs = nil
	for i := range d.rxBufAddrs {
		d.rxBufAddrs[i] = nil
	}

	d.hpriv.mu.Lock()
	d.hpriv.numDevs--
	d.hpriv.mu.Unlock()
}

// Enable turns on interrupt processing.
func (d *DeviceCtx) Enable() {
	d.rxLock.Lock()
	d.status = StatusEnabled
	d.rxLock.Unlock()
}

// Disable turns off interrupt processing; the interrupt handler
// acknowledges and exits while disabled.
func (d *DeviceCtx) Disable() {
	d.rxLock.Lock()
	d.status = StatusDisabled
	d.rxLock.Unlock()
}

// StatusUnlocked reads the enable status without taking the lock.
func (d *DeviceCtx) StatusUnlocked() Status {
	return d.status
}

// SetProcCtx selects the processor context for subsequent
// address translations.
func (d *DeviceCtx) SetProcCtx(proc rpu.ProcType) {
	d.curProc = proc
}

// NumCmds returns the monotonic outbound command counter.
func (d *DeviceCtx) NumCmds() uint32 {
	d.cmdLock.Lock()
	defer d.cmdLock.Unlock()

	return d.numCmds
}

// EventQueueLen reports the number of undelivered events.
func (d *DeviceCtx) EventQueueLen() int {
	d.rxLock.Lock()
	defer d.rxLock.Unlock()

	return d.eventQ.Size()
}

// CmdQueueLen reports the number of fragments awaiting transmission.
func (d *DeviceCtx) CmdQueueLen() int {
	d.cmdLock.Lock()
	defer d.cmdLock.Unlock()

	return d.cmdQ.Size()
}

func (d *DeviceCtx) readMemU32(addr uint32) (uint32, error) {
	var buf [4]byte

	if err := d.bus.ReadMem(addr, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// OTPInfoSize is the size of the UMAC boot-info blob in shared memory.
const OTPInfoSize = 64

// OTPInfo reads the UMAC boot-info blob and the OTP flags word.
func (d *DeviceCtx) OTPInfo() (info []byte, flags uint32, err error) {
	if d == nil {
		return nil, 0, ErrNilDevice
	}

	info = make([]byte, OTPInfoSize)
	if err := d.bus.ReadMem(rpu.MemUMACBootSig, info); err != nil {
		return nil, 0, fmt.Errorf("hal: OTP info read: %w", err)
	}

	flags, err = d.readMemU32(rpu.MemOTPInfoFlags)
	if err != nil {
		return nil, 0, fmt.Errorf("hal: OTP flags read: %w", err)
	}

	return info, flags, nil
}

// OTPFTProgVer reads the factory-trim program version.
func (d *DeviceCtx) OTPFTProgVer() (uint32, error) {
	if d == nil {
		return 0, ErrNilDevice
	}

	v, err := d.readMemU32(rpu.MemOTPFTProgVersion)
	if err != nil {
		return 0, fmt.Errorf("hal: FT program version read: %w", err)
	}

	return v, nil
}

// OTPPackInfo reads the package-type word.
func (d *DeviceCtx) OTPPackInfo() (uint32, error) {
	if d == nil {
		return 0, ErrNilDevice
	}

	v, err := d.readMemU32(rpu.MemOTPPackageType)
	if err != nil {
		return 0, fmt.Errorf("hal: package info read: %w", err)
	}

	return v, nil
}
