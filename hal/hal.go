// Package hal implements the host driver layer for the RPU radio
// co-processor: the HPQ command/event transport, the interrupt-driven
// event pipeline, the sleep/wake power coordinator, and the processor
// reset/boot sequencing. It talks to hardware exclusively through the
// bal interfaces and owns no transport of its own.
package hal

import (
	"errors"
	"time"
)

// Status gates whether a device processes interrupts.
type Status int

// A device is Disabled until its Init completes and after Deinit.
const (
	StatusDisabled Status = iota
	StatusEnabled
)

// PowerState is the driver's view of the RPU power state.
type PowerState int32

// The RPU boots Asleep and is only Awake between a successful wake
// handshake and the next idle-sleep timer expiry.
const (
	PowerAsleep PowerState = iota
	PowerAwake
)

func (s PowerState) String() string {
	if s == PowerAwake {
		return "Awake"
	}
	return "Asleep"
}

// MsgType selects the HPQ lane a message travels on.
type MsgType int

// Control commands and TX-data commands share the command lanes;
// RX-buffer postings use the per-queue receive lanes and skip the
// doorbell trigger.
const (
	MsgTypeCmdCtrl MsgType = iota
	MsgTypeCmdDataTX
	MsgTypeCmdDataRX
)

// A Msg is one bounded-size fragment of a command or event. Whoever
// holds the queue containing a Msg owns it; ownership moves to the
// consumer on dequeue.
type Msg struct {
	ID   string
	Data []byte
}

// EventHandler receives each event fragment pulled off the RPU, in
// arrival order. A non-nil return is logged and does not stop delivery
// of later events.
type EventHandler interface {
	HandleEvent(dev *DeviceCtx, data []byte) error
}

// RecoveryHandler is notified when the driver decides the RPU needs
// recovery (wake timeout or an interrupt cause that demands it).
type RecoveryHandler interface {
	HandleRecovery(dev *DeviceCtx) error
}

// Errors reported by the driver core. Hardware-level failures from the
// bus layer are wrapped and surfaced as-is.
var (
	ErrNilDevice      = errors.New("hal: nil device context")
	ErrInvalidMsgType = errors.New("hal: invalid message type")
	ErrInvalidQueueID = errors.New("hal: invalid queue id")
	ErrTimeout        = errors.New("hal: timed out")
)

// Config carries the driver-wide limits and every hardware-timing knob
// the busy-wait loops depend on. The defaults match current silicon;
// board ports are expected to tune them rather than patch constants.
type Config struct {
	// MaxCmdSize is the fragment-size limit; commands longer than this
	// are split before transmission.
	MaxCmdSize int

	// MaxDevs bounds the number of attached devices.
	MaxDevs int

	// NumTxBufs and NumRxBufs size the per-device buffer-tracking
	// tables (NumRxBufs is per receive queue).
	NumTxBufs int
	NumRxBufs int

	// ReadyWaitTimeout bounds the busy-poll for a free command buffer.
	ReadyWaitTimeout time.Duration

	// Wake handshake: overall budget, status-poll spacing, and the
	// fixed settle delay applied after asserting the wake line.
	WakeTimeout      time.Duration
	WakePollInterval time.Duration
	WakeSettleDelay  time.Duration

	// IdleSleepTimeout is how long the RPU stays awake with no further
	// wake requests before the idle timer puts it back to sleep.
	IdleSleepTimeout time.Duration

	// MinSleepOpportunity is the shortest deassert window that counts
	// as a real chance for the RPU to have slept (recovery heuristic).
	MinSleepOpportunity time.Duration

	// Register polling used by the reset sequencer.
	RegPollInterval time.Duration
	RegPollAttempts int

	// Boot-signature polling budget.
	BootPollInterval time.Duration
	BootTimeout      time.Duration

	// Recovery enables scheduling the recovery work unit on a wake
	// timeout.
	Recovery bool
}

// DefaultConfig returns the configuration validated on current
// hardware revisions.
func DefaultConfig() Config {
	return Config{
		MaxCmdSize:          512,
		MaxDevs:             1,
		NumTxBufs:           64,
		NumRxBufs:           64,
		ReadyWaitTimeout:    1 * time.Second,
		WakeTimeout:         1 * time.Second,
		WakePollInterval:    1 * time.Millisecond,
		WakeSettleDelay:     1 * time.Millisecond,
		IdleSleepTimeout:    10 * time.Millisecond,
		MinSleepOpportunity: 100 * time.Millisecond,
		RegPollInterval:     10 * time.Millisecond,
		RegPollAttempts:     50,
		BootPollInterval:    10 * time.Millisecond,
		BootTimeout:         1 * time.Second,
		Recovery:            true,
	}
}
