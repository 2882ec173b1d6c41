package hal

import (
	"sync"
	"time"

	"github.com/JordanYates/nrf-wifi/bal/simrpu"
	"github.com/JordanYates/nrf-wifi/osal"
)

// manualTasklet is a deferred-work unit the test drives by hand:
// Schedule only counts, Run executes the body on the test goroutine.
type manualTasklet struct {
	mu        sync.Mutex
	fn        func()
	scheduled int
	killed    bool
}

func (t *manualTasklet) Schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.killed {
		return
	}
	t.scheduled++
}

func (t *manualTasklet) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.killed = true
}

func (t *manualTasklet) Run() {
	t.fn()
}

func (t *manualTasklet) ScheduleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.scheduled
}

// manualTimer records arming requests and fires only when told to.
type manualTimer struct {
	mu        sync.Mutex
	fn        func()
	durations []time.Duration
	killed    bool
}

func (t *manualTimer) Schedule(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.killed {
		return
	}
	t.durations = append(t.durations, d)
}

func (t *manualTimer) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.killed = true
}

func (t *manualTimer) Fire() {
	t.fn()
}

func (t *manualTimer) ScheduleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.durations)
}

func (t *manualTimer) LastDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.durations) == 0 {
		return 0
	}
	return t.durations[len(t.durations)-1]
}

// workFixture captures the work units a device creates, in creation
// order: tasklets[0] is the event work, tasklets[1] the recovery work,
// timers[0] the idle-sleep timer.
type workFixture struct {
	tasklets []*manualTasklet
	timers   []*manualTimer
}

func (f *workFixture) newTasklet(fn func()) osal.Tasklet {
	t := &manualTasklet{fn: fn}
	f.tasklets = append(f.tasklets, t)
	return t
}

func (f *workFixture) newTimer(fn func()) osal.Timer {
	t := &manualTimer{fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *workFixture) eventWork() *manualTasklet    { return f.tasklets[0] }
func (f *workFixture) recoveryWork() *manualTasklet { return f.tasklets[1] }
func (f *workFixture) psTimer() *manualTimer        { return f.timers[0] }

// eventRecorder collects delivered event payloads. Setting failNext
// makes the next callback return an error.
type eventRecorder struct {
	mu       sync.Mutex
	events   [][]byte
	failNext error
}

func (r *eventRecorder) HandleEvent(_ *DeviceCtx, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, append([]byte(nil), data...))

	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}

	return nil
}

func (r *eventRecorder) Events() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]byte, len(r.events))
	for i, e := range r.events {
		out[i] = append([]byte(nil), e...)
	}

	return out
}

// recoveryRecorder counts recovery notifications.
type recoveryRecorder struct {
	mu    sync.Mutex
	calls int
}

func (r *recoveryRecorder) HandleRecovery(_ *DeviceCtx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++

	return nil
}

func (r *recoveryRecorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

// fastConfig shrinks every timing knob so failure paths complete in
// milliseconds.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxCmdSize = 256
	cfg.ReadyWaitTimeout = 20 * time.Millisecond
	cfg.WakeTimeout = 20 * time.Millisecond
	cfg.WakePollInterval = 1 * time.Millisecond
	cfg.WakeSettleDelay = 0
	cfg.MinSleepOpportunity = 1 * time.Millisecond
	cfg.RegPollInterval = 1 * time.Millisecond
	cfg.RegPollAttempts = 5
	cfg.BootPollInterval = 1 * time.Millisecond
	cfg.BootTimeout = 5 * time.Millisecond

	return cfg
}

// testSetup is one driver instance over a simulated RPU with manual
// work units.
type testSetup struct {
	hp  *Priv
	dev *DeviceCtx
	sim *simrpu.RPU
	fx  *workFixture
	ev  *eventRecorder
	rec *recoveryRecorder
}

func newTestSetup(cfg Config, simCfg simrpu.Config) *testSetup {
	s := &testSetup{
		sim: simrpu.New(simCfg),
		fx:  &workFixture{},
		ev:  &eventRecorder{},
		rec: &recoveryRecorder{},
	}

	hp, err := MakeBuilder().
		WithConfig(cfg).
		WithBusDriver(simrpu.NewDriver()).
		WithEventHandler(s.ev).
		WithRecoveryHandler(s.rec).
		WithTaskletFactory(s.fx.newTasklet).
		WithTimerFactory(s.fx.newTimer).
		Build()
	if err != nil {
		panic(err)
	}
	s.hp = hp

	dev, err := hp.AddDevice(s.sim)
	if err != nil {
		panic(err)
	}
	s.dev = dev

	return s
}
