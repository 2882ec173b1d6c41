// Package simrpu provides an in-memory RPU behind the bal interfaces:
// a register file, sparse shared memory, HPQ rings mapped onto their
// enqueue/dequeue register addresses, and emulation of the wake
// handshake, pulsed processor resets, and boot signatures. It backs
// the driver test suites and the rpuctl tooling; timing-dependent
// behavior (how many polls before ready, how many reads before a reset
// self-clears) is configurable so failure paths can be exercised.
package simrpu

import (
	"fmt"
	"sync"

	"github.com/JordanYates/nrf-wifi/bal"
	"github.com/JordanYates/nrf-wifi/rpu"
)

// Register addresses the simulated firmware assigns to its HPQ rings.
const (
	cmdAvlEnq   uint32 = 0xA4001000
	cmdAvlDeq   uint32 = 0xA4001004
	cmdBusyEnq  uint32 = 0xA4001008
	cmdBusyDeq  uint32 = 0xA400100C
	evtAvlEnq   uint32 = 0xA4001010
	evtAvlDeq   uint32 = 0xA4001014
	evtBusyEnq  uint32 = 0xA4001018
	evtBusyDeq  uint32 = 0xA400101C
	rxBusyBase  uint32 = 0xA4001020
	rxBusyPitch uint32 = 8
)

// Config shapes the simulated device's behavior.
type Config struct {
	// NumCmdBufs command buffers of CmdBufSize bytes, starting at
	// CmdBufBase, are offered on the command-available queue.
	NumCmdBufs int
	CmdBufBase uint32
	CmdBufSize uint32

	// RecycleCmdBufs re-offers a buffer on the available queue once
	// the host posts it busy, the way firmware does after consuming a
	// command. Disable to simulate a stalled firmware.
	RecycleCmdBufs bool

	// WakeReadyAfter is the number of status polls after a wake assert
	// before the ready bits appear. Negative means the RPU never
	// becomes ready.
	WakeReadyAfter int

	// ResetClearAfter is the number of control-register reads before a
	// pulsed reset self-clears. Negative means the reset sticks.
	ResetClearAfter int

	// BootSigOnReset writes the boot signature once a reset completes.
	BootSigOnReset bool
}

// DefaultConfig returns a well-behaved device.
func DefaultConfig() Config {
	return Config{
		NumCmdBufs:      4,
		CmdBufBase:      0xB0010000,
		CmdBufSize:      1024,
		RecycleCmdBufs:  true,
		WakeReadyAfter:  1,
		ResetClearAfter: 1,
		BootSigOnReset:  true,
	}
}

// Driver is the trivial driver half of the simulated bus layer.
type Driver struct {
	mu     sync.Mutex
	inited bool
	cfg    bal.Config
}

// NewDriver creates a simulated bus driver.
func NewDriver() *Driver {
	return &Driver{}
}

// Init records the bus configuration.
func (d *Driver) Init(cfg bal.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cfg = cfg
	d.inited = true

	return nil
}

// Deinit tears the driver down.
func (d *Driver) Deinit() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inited = false
}

type ring struct {
	vals []uint32
}

func (r *ring) push(v uint32) {
	r.vals = append(r.vals, v)
}

// peek returns the ring head without advancing it. Reading the
// dequeue register is side-effect free; the ring advances when the
// firmware sees the matching busy-queue post.
func (r *ring) peek() uint32 {
	if len(r.vals) == 0 {
		return 0
	}
	return r.vals[0]
}

func (r *ring) pop() uint32 {
	if len(r.vals) == 0 {
		return 0
	}
	v := r.vals[0]
	r.vals = r.vals[1:]
	return v
}

type pendingReset struct {
	readsLeft int
	proc      rpu.ProcType
}

// RPU is one simulated device. It implements bal.Bus.
type RPU struct {
	mu  sync.Mutex
	cfg Config

	regs map[uint32]uint32
	mem  map[uint32]byte

	deqRings map[uint32]*ring // keyed by dequeue register address
	enqRings map[uint32]*ring // keyed by enqueue register address

	lastWriteLen map[uint32]int

	irq           func()
	pendingEvents [][]byte
	recovery      bool

	wakeAsserted bool
	statusPolls  int

	resets map[uint32]*pendingReset

	received  [][]byte
	triggers  []uint32
	rxPosted  [rpu.MaxRxQueues][]uint32
	failReads map[uint32]error
}

// New creates a simulated RPU.
func New(cfg Config) *RPU {
	return &RPU{
		cfg:          cfg,
		regs:         make(map[uint32]uint32),
		mem:          make(map[uint32]byte),
		deqRings:     make(map[uint32]*ring),
		enqRings:     make(map[uint32]*ring),
		lastWriteLen: make(map[uint32]int),
		resets:       make(map[uint32]*pendingReset),
		failReads:    make(map[uint32]error),
	}
}

// OnInterrupt registers the host interrupt handler.
func (s *RPU) OnInterrupt(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.irq = handler
}

// Init plays the firmware's part of device bring-up: publish the HPQ
// table and the RX command base in shared memory and prime the
// command-available queue with buffers.
func (s *RPU) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := rpu.HPQInfo{
		EventBusyQueue: rpu.HPQ{EnqueueAddr: evtBusyEnq, DequeueAddr: evtBusyDeq},
		EventAvlQueue:  rpu.HPQ{EnqueueAddr: evtAvlEnq, DequeueAddr: evtAvlDeq},
		CmdBusyQueue:   rpu.HPQ{EnqueueAddr: cmdBusyEnq, DequeueAddr: cmdBusyDeq},
		CmdAvlQueue:    rpu.HPQ{EnqueueAddr: cmdAvlEnq, DequeueAddr: cmdAvlDeq},
	}
	for i := range info.RxBufBusyQueue {
		base := rxBusyBase + uint32(i)*rxBusyPitch
		info.RxBufBusyQueue[i] = rpu.HPQ{EnqueueAddr: base, DequeueAddr: base + 4}
	}

	rings := []rpu.HPQ{
		info.EventBusyQueue, info.EventAvlQueue,
		info.CmdBusyQueue, info.CmdAvlQueue,
	}
	rings = append(rings, info.RxBufBusyQueue[:]...)
	for _, q := range rings {
		r := &ring{}
		s.enqRings[q.EnqueueAddr] = r
		s.deqRings[q.DequeueAddr] = r
	}

	s.writeMemLocked(rpu.MemHPQInfo, rpu.EncodeHPQInfo(info))
	s.writeU32Locked(rpu.MemRxCmdBase, s.cfg.CmdBufBase)

	avl := s.deqRings[cmdAvlDeq]
	for i := 0; i < s.cfg.NumCmdBufs; i++ {
		avl.push(s.cfg.CmdBufBase + uint32(i)*s.cfg.CmdBufSize)
	}

	return nil
}

// Deinit is the device-level teardown; the simulated device keeps its
// state so post-mortem assertions still work.
func (s *RPU) Deinit() {}

// Remove drops the interrupt handler.
func (s *RPU) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.irq = nil
}

// FailReads makes subsequent reads of addr fail with err. Pass a nil
// error to clear.
func (s *RPU) FailReads(addr uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failReads, addr)
		return
	}
	s.failReads[addr] = err
}

// ReadReg models one register read, including the side effects
// hardware attaches to some addresses: dequeue registers pop their
// ring, reset controls count down to self-clear.
func (s *RPU) ReadReg(addr uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failReads[addr]; ok {
		return 0, err
	}

	if r, ok := s.deqRings[addr]; ok {
		return r.peek(), nil
	}

	if pr, ok := s.resets[addr]; ok {
		if s.cfg.ResetClearAfter < 0 {
			return 1, nil
		}
		if pr.readsLeft > 0 {
			pr.readsLeft--
			return 1, nil
		}
		s.completeResetLocked(addr, pr.proc)
		return 0, nil
	}

	return s.regs[addr], nil
}

func (s *RPU) completeResetLocked(ctrl uint32, proc rpu.ProcType) {
	delete(s.resets, ctrl)
	s.regs[ctrl] = 0

	_, bootExcp, err := rpu.CtrlReg(proc)
	if err == nil {
		s.regs[bootExcp] = 1
	}

	if s.cfg.BootSigOnReset {
		if addr, sig, err := rpu.BootSigAddr(proc); err == nil {
			s.writeU32Locked(addr, sig)
		}
	}
}

// WriteReg models one register write: enqueue registers push their
// ring (with the firmware-side consumption that implies), the doorbell
// records its trigger, reset controls arm a pending reset.
func (s *RPU) WriteReg(addr, val uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.enqRings[addr]; ok {
		r.push(val)
		s.consumePostLocked(addr, val)
		return nil
	}

	switch addr {
	case rpu.RegIntToMCUCtrl:
		s.triggers = append(s.triggers, val)
	case rpu.RegMCUControl:
		if val == 1 {
			s.resets[addr] = &pendingReset{
				readsLeft: s.cfg.ResetClearAfter,
				proc:      rpu.ProcTypeLMAC,
			}
		}
	case rpu.RegMCU2Control:
		if val == 1 {
			s.resets[addr] = &pendingReset{
				readsLeft: s.cfg.ResetClearAfter,
				proc:      rpu.ProcTypeUMAC,
			}
		}
	}

	s.regs[addr] = val

	return nil
}

// consumePostLocked is the firmware's reaction to a busy-queue post:
// swallow the command payload, recycle the buffer onto the available
// queue, and note RX-buffer handovers per queue.
func (s *RPU) consumePostLocked(enqAddr, bufAddr uint32) {
	if enqAddr == cmdBusyEnq {
		n := s.lastWriteLen[bufAddr]
		data := make([]byte, n)
		for i := range data {
			data[i] = s.mem[bufAddr+uint32(i)]
		}
		s.received = append(s.received, data)

		// The posted buffer is the one the host dequeued from the
		// available ring; consume it there and, if configured, hand it
		// straight back the way firmware does.
		s.deqRings[cmdAvlDeq].pop()
		if s.cfg.RecycleCmdBufs {
			s.deqRings[cmdAvlDeq].push(bufAddr)
		}
		return
	}

	for i := 0; i < rpu.MaxRxQueues; i++ {
		if enqAddr == rxBusyBase+uint32(i)*rxBusyPitch {
			s.rxPosted[i] = append(s.rxPosted[i], bufAddr)
			return
		}
	}
}

// ReadMem copies out of the sparse shared memory; unwritten bytes read
// as zero.
func (s *RPU) ReadMem(addr uint32, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failReads[addr]; ok {
		return err
	}

	for i := range buf {
		buf[i] = s.mem[addr+uint32(i)]
	}

	return nil
}

// WriteMem copies into the sparse shared memory and remembers the
// write length so a later busy post of the same address captures the
// right payload size.
func (s *RPU) WriteMem(addr uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeMemLocked(addr, data)
	s.lastWriteLen[addr] = len(data)

	return nil
}

func (s *RPU) writeMemLocked(addr uint32, data []byte) {
	for i, b := range data {
		s.mem[addr+uint32(i)] = b
	}
}

func (s *RPU) writeU32Locked(addr, val uint32) {
	s.mem[addr] = byte(val)
	s.mem[addr+1] = byte(val >> 8)
	s.mem[addr+2] = byte(val >> 16)
	s.mem[addr+3] = byte(val >> 24)
}

// WakeAssert raises the simulated wake line and restarts the
// ready-poll countdown.
func (s *RPU) WakeAssert() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wakeAsserted = true
	s.statusPolls = 0

	return nil
}

// WakeDeassert drops the wake line.
func (s *RPU) WakeDeassert() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wakeAsserted = false

	return nil
}

// PSStatus reads the simulated power-status register. Ready bits
// appear WakeReadyAfter polls after an assert.
func (s *RPU) PSStatus() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wakeAsserted || s.cfg.WakeReadyAfter < 0 {
		return 0, nil
	}

	s.statusPolls++
	if s.statusPolls > s.cfg.WakeReadyAfter {
		return rpu.PSReadyMask, nil
	}

	return 0, nil
}

// ProcessInterrupt hands every pending event to the sink and reports
// the recovery flag.
func (s *RPU) ProcessInterrupt(sink bal.EventSink) (bool, error) {
	s.mu.Lock()
	events := s.pendingEvents
	s.pendingEvents = nil
	recovery := s.recovery
	s.mu.Unlock()

	for _, e := range events {
		sink.DeliverEvent(e)
	}

	return recovery, nil
}

// InjectEvent queues an event payload and raises the host interrupt.
func (s *RPU) InjectEvent(data []byte) {
	s.mu.Lock()
	s.pendingEvents = append(s.pendingEvents, append([]byte(nil), data...))
	irq := s.irq
	s.mu.Unlock()

	if irq != nil {
		irq()
	}
}

// RaiseInterrupt raises the host interrupt with no event attached.
func (s *RPU) RaiseInterrupt() {
	s.mu.Lock()
	irq := s.irq
	s.mu.Unlock()

	if irq != nil {
		irq()
	}
}

// SetRecovery flags the next interrupts as recovery-worthy.
func (s *RPU) SetRecovery(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recovery = v
}

// ReceivedCommands returns the command payloads the simulated firmware
// consumed, in posting order.
func (s *RPU) ReceivedCommands() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.received))
	for i, r := range s.received {
		out[i] = append([]byte(nil), r...)
	}

	return out
}

// Triggers returns the doorbell values written so far.
func (s *RPU) Triggers() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint32(nil), s.triggers...)
}

// RXPosted returns the buffer addresses posted on the given receive
// queue.
func (s *RPU) RXPosted(queueID int) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queueID < 0 || queueID >= rpu.MaxRxQueues {
		return nil
	}

	return append([]uint32(nil), s.rxPosted[queueID]...)
}

// WakeLine reports the current wake-line level.
func (s *RPU) WakeLine() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wakeAsserted
}

// WriteBootSig plants a boot signature ahead of a CheckBootSignature
// call, for scenarios that skip the reset sequence.
func (s *RPU) WriteBootSig(proc rpu.ProcType) error {
	addr, sig, err := rpu.BootSigAddr(proc)
	if err != nil {
		return fmt.Errorf("simrpu: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeU32Locked(addr, sig)

	return nil
}

var (
	_ bal.Bus    = (*RPU)(nil)
	_ bal.Driver = (*Driver)(nil)
)
