package hal

import (
	"fmt"
	"log"
	"sync"

	"github.com/JordanYates/nrf-wifi/bal"
	"github.com/JordanYates/nrf-wifi/osal"
	"github.com/JordanYates/nrf-wifi/rpu"
)

// TaskletFactory creates the deferred-work units the driver schedules
// from interrupt context.
type TaskletFactory func(fn func()) osal.Tasklet

// TimerFactory creates the idle-sleep timer.
type TimerFactory func(fn func()) osal.Timer

// A Builder assembles a driver instance.
type Builder struct {
	cfg        Config
	drv        bal.Driver
	eventH     EventHandler
	recoveryH  RecoveryHandler
	newTasklet TaskletFactory
	newTimer   TimerFactory
}

// MakeBuilder creates a builder with the default configuration and the
// goroutine-backed platform services.
func MakeBuilder() Builder {
	return Builder{
		cfg:        DefaultConfig(),
		newTasklet: osal.NewTasklet,
		newTimer:   osal.NewTimer,
	}
}

// WithConfig sets the driver configuration.
func (b Builder) WithConfig(cfg Config) Builder {
	b.cfg = cfg
	return b
}

// WithBusDriver sets the transport-layer driver.
func (b Builder) WithBusDriver(drv bal.Driver) Builder {
	b.drv = drv
	return b
}

// WithEventHandler sets the upper-layer event callback.
func (b Builder) WithEventHandler(h EventHandler) Builder {
	b.eventH = h
	return b
}

// WithRecoveryHandler sets the recovery notification callback.
func (b Builder) WithRecoveryHandler(h RecoveryHandler) Builder {
	b.recoveryH = h
	return b
}

// WithTaskletFactory overrides how deferred-work units are created.
// Tests use this to run tasklet bodies deterministically.
func (b Builder) WithTaskletFactory(f TaskletFactory) Builder {
	b.newTasklet = f
	return b
}

// WithTimerFactory overrides how the idle-sleep timer is created.
func (b Builder) WithTimerFactory(f TimerFactory) Builder {
	b.newTimer = f
	return b
}

// Build allocates the private driver context, resolves the packet-RAM
// offset the transport needs, and initializes the transport layer.
func (b Builder) Build() (*Priv, error) {
	if b.drv == nil {
		return nil, fmt.Errorf("hal: no bus driver configured")
	}

	if b.eventH == nil {
		return nil, fmt.Errorf("hal: no event handler configured")
	}

	pktRAMBase, err := rpu.AddrOffset(rpu.MemPktRAMStart, rpu.ProcTypeMax)
	if err != nil {
		return nil, fmt.Errorf("hal: resolving packet RAM offset: %w", err)
	}

	if err := b.drv.Init(bal.Config{PktRAMBase: pktRAMBase}); err != nil {
		return nil, fmt.Errorf("hal: bus driver init: %w", err)
	}

	return &Priv{
		cfg:        b.cfg,
		drv:        b.drv,
		eventH:     b.eventH,
		recoveryH:  b.recoveryH,
		newTasklet: b.newTasklet,
		newTimer:   b.newTimer,
	}, nil
}

// Priv is the private driver context, shared by every attached device.
type Priv struct {
	cfg        Config
	drv        bal.Driver
	eventH     EventHandler
	recoveryH  RecoveryHandler
	newTasklet TaskletFactory
	newTimer   TimerFactory

	mu      sync.Mutex
	numDevs int
}

// Config returns a copy of the driver configuration.
func (p *Priv) Config() Config {
	return p.cfg
}

// NumDevices returns the number of currently attached devices.
func (p *Priv) NumDevices() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.numDevs
}

// Deinit tears down the transport layer. All devices must have been
// removed first; remaining attachments are the caller's bug and are
// only logged.
func (p *Priv) Deinit() {
	p.mu.Lock()
	if p.numDevs > 0 {
		log.Printf("hal: deinit with %d device(s) still attached", p.numDevs)
	}
	p.mu.Unlock()

	p.drv.Deinit()
}

// AddDevice allocates a device context bound to the given bus, wires
// its queues, locks, deferred-work units and power coordinator, and
// registers its interrupt handler with the transport.
func (p *Priv) AddDevice(bus bal.Bus) (*DeviceCtx, error) {
	if bus == nil {
		return nil, fmt.Errorf("hal: nil bus")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.numDevs >= p.cfg.MaxDevs {
		return nil, fmt.Errorf("hal: device limit (%d) reached", p.cfg.MaxDevs)
	}

	d := &DeviceCtx{
		hpriv:      p,
		bus:        bus,
		cmdQ:       NewMsgQueue(),
		eventQ:     NewMsgQueue(),
		curProc:    rpu.ProcTypeLMAC,
		txBufAddrs: make([]uint32, p.cfg.NumTxBufs),
	}
	for i := range d.rxBufAddrs {
		d.rxBufAddrs[i] = make([]uint32, p.cfg.NumRxBufs)
	}

	d.eventWork = p.newTasklet(func() { _ = d.ProcessEvents() })
	d.recoveryWork = p.newTasklet(d.processRecovery)
	d.psTimer = p.newTimer(d.psSleep)

	bus.OnInterrupt(func() { _ = d.IRQHandler() })

	p.numDevs++

	return d, nil
}
