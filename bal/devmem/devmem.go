//go:build linux

// Package devmem implements the bal interfaces for hosts where the
// RPU's register and memory windows are physically mapped and reachable
// through /dev/mem, the way BeagleBone-class boards expose co-processor
// RAM. Regions are translated with the rpu address map and accessed
// through a single mmap'd window.
//
// /dev/mem delivers no interrupts; the platform integration is expected
// to watch its interrupt source (UIO, GPIO edge, ...) and call
// TriggerInterrupt.
package devmem

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/JordanYates/nrf-wifi/bal"
	"github.com/JordanYates/nrf-wifi/rpu"
)

// Config locates the mapped window.
type Config struct {
	// Path of the memory device, normally /dev/mem.
	Path string

	// PhysBase and Size describe the physical window holding the RPU
	// regions.
	PhysBase int64
	Size     int

	// MaxEventLen bounds the length word of an inbound event.
	MaxEventLen uint32
}

// DefaultConfig returns the conventional mapping.
func DefaultConfig() Config {
	return Config{
		Path:        "/dev/mem",
		PhysBase:    0x4A300000,
		Size:        0x100000,
		MaxEventLen: 4096,
	}
}

// Driver is the driver half of the mapped-memory bus layer.
type Driver struct {
	mu  sync.Mutex
	cfg bal.Config
}

// NewDriver creates a mapped-memory bus driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Init records the bus configuration.
func (d *Driver) Init(cfg bal.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cfg = cfg

	return nil
}

// Deinit tears the driver down.
func (d *Driver) Deinit() {}

// Bus is one mapped device.
type Bus struct {
	cfg Config

	mu   sync.Mutex
	file *os.File
	mem  []byte
	irq  func()

	hpq      rpu.HPQInfo
	haveHPQ  bool
	recovery bool
}

// NewBus creates a device bus over the given window.
func NewBus(cfg Config) *Bus {
	return &Bus{cfg: cfg}
}

// OnInterrupt registers the host interrupt handler.
func (b *Bus) OnInterrupt(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.irq = handler
}

// TriggerInterrupt is called by the platform's interrupt watcher when
// the RPU raises its host interrupt line.
func (b *Bus) TriggerInterrupt() {
	b.mu.Lock()
	irq := b.irq
	b.mu.Unlock()

	if irq != nil {
		irq()
	}
}

// Init maps the window and reads the HPQ table the firmware published,
// which the event path needs to locate inbound events.
func (b *Bus) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.cfg.Path, os.O_RDWR|os.O_SYNC, 0o660)
	if err != nil {
		return fmt.Errorf("devmem: opening %s: %w", b.cfg.Path, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), b.cfg.PhysBase, b.cfg.Size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("devmem: mapping %s: %w", b.cfg.Path, err)
	}

	b.file = f
	b.mem = mem

	buf := make([]byte, rpu.HPQInfoSize)
	if err := b.readMemLocked(rpu.MemHPQInfo, buf); err != nil {
		return err
	}

	info, err := rpu.DecodeHPQInfo(buf)
	if err != nil {
		return err
	}
	b.hpq = info
	b.haveHPQ = true

	return nil
}

// Deinit unmaps the window.
func (b *Bus) Deinit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mem != nil {
		unix.Munmap(b.mem)
		b.mem = nil
	}
	if b.file != nil {
		b.file.Close()
		b.file = nil
	}
}

// Remove drops the interrupt handler.
func (b *Bus) Remove() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.irq = nil
}

func (b *Bus) slice(addr uint32, n int) ([]byte, error) {
	off, err := rpu.AddrOffset(addr, rpu.ProcTypeMax)
	if err != nil {
		return nil, err
	}

	if b.mem == nil {
		return nil, fmt.Errorf("devmem: window not mapped")
	}

	if int(off)+n > len(b.mem) {
		return nil, fmt.Errorf("devmem: 0x%08X+%d beyond mapped window", addr, n)
	}

	return b.mem[off : int(off)+n], nil
}

// ReadReg reads one 32-bit register.
func (b *Bus) ReadReg(addr uint32) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.slice(addr, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(s), nil
}

// WriteReg writes one 32-bit register.
func (b *Bus) WriteReg(addr, val uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.slice(addr, 4)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(s, val)

	return nil
}

// ReadMem copies a shared-memory range into buf.
func (b *Bus) ReadMem(addr uint32, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.readMemLocked(addr, buf)
}

func (b *Bus) readMemLocked(addr uint32, buf []byte) error {
	s, err := b.slice(addr, len(buf))
	if err != nil {
		return err
	}

	copy(buf, s)

	return nil
}

// WriteMem copies data into a shared-memory range.
func (b *Bus) WriteMem(addr uint32, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.slice(addr, len(data))
	if err != nil {
		return err
	}

	copy(s, data)

	return nil
}

// WakeAssert raises the wake line.
func (b *Bus) WakeAssert() error {
	return b.WriteReg(rpu.RegWakeupNow, 1)
}

// WakeDeassert drops the wake line.
func (b *Bus) WakeDeassert() error {
	return b.WriteReg(rpu.RegWakeupNow, 0)
}

// PSStatus reads the power-status register.
func (b *Bus) PSStatus() (uint32, error) {
	return b.ReadReg(rpu.RegPSCtrl)
}

// ProcessInterrupt drains the event busy queue: each dequeued address
// points at a length-prefixed event payload in shared memory, which is
// read, acknowledged back on the event available queue, and handed to
// the sink. Recovery is never requested by this transport.
func (b *Bus) ProcessInterrupt(sink bal.EventSink) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.haveHPQ {
		return false, fmt.Errorf("devmem: HPQ table not read")
	}

	for {
		s, err := b.slice(b.hpq.EventBusyQueue.DequeueAddr, 4)
		if err != nil {
			return false, err
		}

		evAddr := binary.LittleEndian.Uint32(s)
		if evAddr == 0 {
			return false, nil
		}

		var lenBuf [4]byte
		if err := b.readMemLocked(evAddr, lenBuf[:]); err != nil {
			return false, err
		}

		evLen := binary.LittleEndian.Uint32(lenBuf[:])
		if evLen > b.cfg.MaxEventLen {
			return false, fmt.Errorf("devmem: event at 0x%08X claims %d bytes",
				evAddr, evLen)
		}

		data := make([]byte, evLen)
		if err := b.readMemLocked(evAddr+4, data); err != nil {
			return false, err
		}

		ack, err := b.slice(b.hpq.EventAvlQueue.EnqueueAddr, 4)
		if err != nil {
			return false, err
		}
		binary.LittleEndian.PutUint32(ack, evAddr)

		sink.DeliverEvent(data)
	}
}

var (
	_ bal.Bus    = (*Bus)(nil)
	_ bal.Driver = (*Driver)(nil)
)
