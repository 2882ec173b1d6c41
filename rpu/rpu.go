// Package rpu describes the host-visible address space of the radio
// co-processor: control registers, shared-memory landmarks, boot
// signatures, and the hardware priority queue (HPQ) descriptors the
// firmware publishes at boot.
package rpu

import (
	"encoding/binary"
	"fmt"
)

// ProcType selects one of the RPU's embedded processors.
type ProcType int

// The two MCUs hosted on the RPU. ProcTypeMax bounds the enum and is
// also the selector used when an address translation is processor
// independent.
const (
	ProcTypeLMAC ProcType = iota
	ProcTypeUMAC
	ProcTypeMax
)

func (p ProcType) String() string {
	switch p {
	case ProcTypeLMAC:
		return "LMAC"
	case ProcTypeUMAC:
		return "UMAC"
	default:
		return fmt.Sprintf("ProcType(%d)", int(p))
	}
}

// Valid reports whether p names a real processor.
func (p ProcType) Valid() bool {
	return p == ProcTypeLMAC || p == ProcTypeUMAC
}

// Control registers.
const (
	// RegIntToMCUCtrl is the doorbell the host writes to tell the RPU
	// firmware that a command has been posted. The low half-word
	// carries the host's command counter; the high half-word carries
	// CmdTriggerMark.
	RegIntToMCUCtrl uint32 = 0xA4000400

	// RegPSCtrl is the power-state status register polled during the
	// wake handshake.
	RegPSCtrl uint32 = 0xA4000408

	// RegWakeupNow drives the wake line on directly mapped hosts:
	// write 1 to assert, 0 to deassert.
	RegWakeupNow uint32 = 0xA4000404

	// RegMCUControl and RegMCU2Control are the pulsed soft-reset
	// controls for the LMAC and UMAC. Writing 1 starts the reset; the
	// register self-clears to 0 when the processor has been released.
	RegMCUControl  uint32 = 0xA4000030
	RegMCU2Control uint32 = 0xA4000130

	// RegMCUBootExcp and RegMCU2BootExcp read 1 once the respective
	// processor has restarted from its boot-exception vector and hit
	// its default wait instruction.
	RegMCUBootExcp  uint32 = 0xA4000018
	RegMCU2BootExcp uint32 = 0xA4000118
)

// CmdTriggerMark is OR'd with the outbound command counter in every
// doorbell write so the firmware can detect duplicated or reordered
// triggers.
const CmdTriggerMark uint32 = 0x7fff0000

// Bit positions within RegPSCtrl.
const (
	PSStateBit    = 0
	ReadyStateBit = 1
)

// PSReadyMask covers both bits that must be set before the RPU may be
// considered awake.
const PSReadyMask uint32 = (1 << PSStateBit) | (1 << ReadyStateBit)

// Shared-memory landmarks.
const (
	// MemHPQInfo is where the firmware publishes the HPQInfo table.
	MemHPQInfo uint32 = 0xB0000024

	// MemRxCmdBase holds the base address for receive-command buffers.
	MemRxCmdBase uint32 = 0xB0000078

	// MemTxCmdBase is a fixed constant rather than a published value.
	MemTxCmdBase uint32 = 0xB0400000

	// MemPktRAMStart is the start of the packet RAM region; the bus
	// layer needs its host-side offset at driver init.
	MemPktRAMStart uint32 = 0xB0005000

	// Boot signature locations, one per processor.
	MemLMACBootSig uint32 = 0xB7000D50
	MemUMACBootSig uint32 = 0xB0000000

	// OTP-derived information published by the UMAC after boot.
	MemOTPInfoFlags     uint32 = 0xB0000DD8
	MemOTPFTProgVersion uint32 = 0xB0000DDC
	MemOTPPackageType   uint32 = 0xB0000DE0
)

// Boot signatures the firmware writes once each processor is up.
const (
	LMACBootSig uint32 = 0x5A5A5A5A
	UMACBootSig uint32 = 0x5A5A5A5A
)

// BootSigAddr returns the shared-memory address and expected signature
// for the given processor.
func BootSigAddr(proc ProcType) (addr, sig uint32, err error) {
	switch proc {
	case ProcTypeLMAC:
		return MemLMACBootSig, LMACBootSig, nil
	case ProcTypeUMAC:
		return MemUMACBootSig, UMACBootSig, nil
	default:
		return 0, 0, fmt.Errorf("rpu: no boot signature for processor %v", proc)
	}
}

// CtrlReg returns the pulsed reset-control register and the
// boot-exception address for the given processor.
func CtrlReg(proc ProcType) (ctrl, bootExcp uint32, err error) {
	switch proc {
	case ProcTypeLMAC:
		return RegMCUControl, RegMCUBootExcp, nil
	case ProcTypeUMAC:
		return RegMCU2Control, RegMCU2BootExcp, nil
	default:
		return 0, 0, fmt.Errorf("rpu: unsupported processor %v", proc)
	}
}

// MaxRxQueues is the number of receive-buffer HPQ lanes the firmware
// maintains.
const MaxRxQueues = 3

// HPQ is one hardware priority queue descriptor: a register the host
// enqueues buffer addresses into and a register it dequeues them from.
// The ring itself lives on the RPU; the host only sees these two
// addresses.
type HPQ struct {
	EnqueueAddr uint32
	DequeueAddr uint32
}

// HPQInfo is the queue table the firmware publishes at MemHPQInfo.
type HPQInfo struct {
	EventBusyQueue HPQ
	EventAvlQueue  HPQ
	CmdBusyQueue   HPQ
	CmdAvlQueue    HPQ
	RxBufBusyQueue [MaxRxQueues]HPQ
}

// HPQInfoSize is the encoded size of HPQInfo in shared memory.
const HPQInfoSize = (4 + MaxRxQueues) * 8

// DecodeHPQInfo parses the little-endian queue table read out of
// shared memory.
func DecodeHPQInfo(buf []byte) (HPQInfo, error) {
	var info HPQInfo

	if len(buf) < HPQInfoSize {
		return info, fmt.Errorf("rpu: HPQ info truncated: %d bytes", len(buf))
	}

	qs := []*HPQ{
		&info.EventBusyQueue,
		&info.EventAvlQueue,
		&info.CmdBusyQueue,
		&info.CmdAvlQueue,
	}
	for i := range info.RxBufBusyQueue {
		qs = append(qs, &info.RxBufBusyQueue[i])
	}

	for i, q := range qs {
		q.EnqueueAddr = binary.LittleEndian.Uint32(buf[i*8:])
		q.DequeueAddr = binary.LittleEndian.Uint32(buf[i*8+4:])
	}

	return info, nil
}

// EncodeHPQInfo is the inverse of DecodeHPQInfo. The simulated RPU uses
// it to publish a queue table the way firmware does.
func EncodeHPQInfo(info HPQInfo) []byte {
	buf := make([]byte, HPQInfoSize)

	qs := []HPQ{
		info.EventBusyQueue,
		info.EventAvlQueue,
		info.CmdBusyQueue,
		info.CmdAvlQueue,
	}
	qs = append(qs, info.RxBufBusyQueue[:]...)

	for i, q := range qs {
		binary.LittleEndian.PutUint32(buf[i*8:], q.EnqueueAddr)
		binary.LittleEndian.PutUint32(buf[i*8+4:], q.DequeueAddr)
	}

	return buf
}

// Address regions, used to translate RPU bus addresses to host-side
// offsets.
const (
	regionSysbusStart uint32 = 0xA4000000
	regionSysbusEnd   uint32 = 0xA4FFFFFF
	regionGRAMStart   uint32 = 0xB0000000
	regionGRAMEnd     uint32 = 0xB0FFFFFF
	regionPktRAMStart uint32 = 0xB7000000
	regionPktRAMEnd   uint32 = 0xB7FFFFFF
)

// AddrOffset resolves an RPU bus address to the offset of its region
// within the host-mapped window. The processor selector only matters
// for core-local regions, of which the host drives none today.
func AddrOffset(addr uint32, _ ProcType) (uint32, error) {
	switch {
	case addr >= regionSysbusStart && addr <= regionSysbusEnd:
		return addr - regionSysbusStart, nil
	case addr >= regionGRAMStart && addr <= regionGRAMEnd:
		return addr - regionGRAMStart, nil
	case addr >= regionPktRAMStart && addr <= regionPktRAMEnd:
		return addr - regionPktRAMStart, nil
	default:
		return 0, fmt.Errorf("rpu: address 0x%08X outside mapped regions", addr)
	}
}
