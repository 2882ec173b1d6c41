// Package bal defines the Bus Abstraction Layer: the narrow interfaces
// through which the driver core reaches the physical link to the RPU.
// Implementations live in sub-packages (simrpu for tests and tooling,
// devmem for directly mapped hardware); the core never depends on a
// concrete transport.
package bal

// Config carries the parameters the bus layer needs before any device
// is attached.
type Config struct {
	// PktRAMBase is the host-side offset of the RPU packet RAM window,
	// resolved by the caller from the RPU memory map.
	PktRAMBase uint32
}

// Driver is the per-driver-instance half of the bus layer.
type Driver interface {
	Init(cfg Config) error
	Deinit()
}

// EventSink receives event payloads pulled off the link while an
// interrupt is being serviced. DeliverEvent is only invoked from
// within Bus.ProcessInterrupt, under the caller's interrupt lock, and
// must not block.
type EventSink interface {
	DeliverEvent(data []byte)
}

// Bus is the per-device transport. Register and memory accesses map
// one-to-one onto the underlying link transactions; all of them can
// fail and the failure is reported to the caller unmodified.
type Bus interface {
	Init() error
	Deinit()
	Remove()

	ReadReg(addr uint32) (uint32, error)
	WriteReg(addr, val uint32) error
	ReadMem(addr uint32, buf []byte) error
	WriteMem(addr uint32, data []byte) error

	// Wake-line control and the power-status register read used by the
	// wake handshake.
	WakeAssert() error
	WakeDeassert() error
	PSStatus() (uint32, error)

	// OnInterrupt registers the handler the transport invokes when the
	// RPU raises its host interrupt. Must be called before Init.
	OnInterrupt(handler func())

	// ProcessInterrupt determines the interrupt cause, feeds any
	// pending event payloads to sink, and reports whether the cause
	// calls for RPU recovery rather than normal event processing.
	ProcessInterrupt(sink EventSink) (recovery bool, err error)
}
