package hal

import (
	"bytes"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/JordanYates/nrf-wifi/bal/simrpu"
	"github.com/JordanYates/nrf-wifi/rpu"
)

var _ = Describe("SendCtrlCommand", func() {
	var s *testSetup

	BeforeEach(func() {
		s = newTestSetup(fastConfig(), simrpu.DefaultConfig())
		Expect(s.dev.Init()).To(Succeed())
	})

	It("should transmit a short command as a single fragment", func() {
		cmd := []byte{0xDE, 0xAD, 0xBE, 0xEF}

		Expect(s.dev.SendCtrlCommand(cmd)).To(Succeed())

		received := s.sim.ReceivedCommands()
		Expect(received).To(HaveLen(1))
		Expect(received[0]).To(Equal(cmd))
	})

	It("should fragment a long command and preserve byte order", func() {
		max := s.hp.Config().MaxCmdSize
		cmd := make([]byte, 3*max+10)
		for i := range cmd {
			cmd[i] = byte(i)
		}

		Expect(s.dev.SendCtrlCommand(cmd)).To(Succeed())

		received := s.sim.ReceivedCommands()
		Expect(received).To(HaveLen(4))
		Expect(received[0]).To(HaveLen(max))
		Expect(received[1]).To(HaveLen(max))
		Expect(received[2]).To(HaveLen(max))
		Expect(received[3]).To(HaveLen(10))
		Expect(bytes.Join(received, nil)).To(Equal(cmd))
	})

	It("should ring the doorbell once per fragment with the marked counter", func() {
		max := s.hp.Config().MaxCmdSize

		Expect(s.dev.SendCtrlCommand(make([]byte, 2*max))).To(Succeed())

		Expect(s.sim.Triggers()).To(Equal([]uint32{
			0 | rpu.CmdTriggerMark,
			1 | rpu.CmdTriggerMark,
		}))
		Expect(s.dev.NumCmds()).To(Equal(uint32(2)))
	})

	It("should send an empty command as one empty fragment", func() {
		Expect(s.dev.SendCtrlCommand(nil)).To(Succeed())

		received := s.sim.ReceivedCommands()
		Expect(received).To(HaveLen(1))
		Expect(received[0]).To(BeEmpty())
		Expect(s.sim.Triggers()).To(HaveLen(1))
	})

	It("should not interleave fragments of concurrent submissions", func() {
		max := s.hp.Config().MaxCmdSize
		cmdA := bytes.Repeat([]byte{0xAA}, 3*max)
		cmdB := bytes.Repeat([]byte{0xBB}, 3*max)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			Expect(s.dev.SendCtrlCommand(cmdA)).To(Succeed())
		}()
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			Expect(s.dev.SendCtrlCommand(cmdB)).To(Succeed())
		}()
		wg.Wait()

		received := s.sim.ReceivedCommands()
		Expect(received).To(HaveLen(6))
		for _, frag := range received {
			Expect(frag).To(Or(
				Equal(bytes.Repeat([]byte{0xAA}, max)),
				Equal(bytes.Repeat([]byte{0xBB}, max)),
			))
		}
		Expect(received[0][0]).To(Equal(received[1][0]))
		Expect(received[1][0]).To(Equal(received[2][0]))
		Expect(received[3][0]).To(Equal(received[4][0]))
		Expect(received[4][0]).To(Equal(received[5][0]))
		Expect(received[0][0]).NotTo(Equal(received[3][0]))
	})

	It("should time out when the RPU never offers a buffer", func() {
		simCfg := simrpu.DefaultConfig()
		simCfg.NumCmdBufs = 0
		s = newTestSetup(fastConfig(), simCfg)
		Expect(s.dev.Init()).To(Succeed())

		err := s.dev.SendCtrlCommand([]byte{0x01})
		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
		Expect(s.dev.CmdQueueLen()).To(Equal(0))
		Expect(s.dev.NumCmds()).To(Equal(uint32(0)))
	})

	It("should treat availability-read failures as no buffer and time out", func() {
		s.sim.FailReads(s.dev.rpuInfo.hpq.CmdAvlQueue.DequeueAddr,
			errors.New("link down"))

		err := s.dev.SendCtrlCommand([]byte{0x01})
		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
	})

	It("should reject a nil device", func() {
		var d *DeviceCtx
		Expect(d.SendCtrlCommand([]byte{0x01})).To(MatchError(ErrNilDevice))
	})
})

var _ = Describe("Command drain failure", func() {
	const (
		avlDeq  uint32 = 0x1004
		busyEnq uint32 = 0x1008
		bufAddr uint32 = 0xB0010000
	)

	var (
		ctrl *gomock.Controller
		bus  *MockBus
		dev  *DeviceCtx
		cfg  Config
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		bus = NewMockBus(ctrl)
		bus.EXPECT().OnInterrupt(gomock.Any())

		cfg = fastConfig()
		hp, err := MakeBuilder().
			WithConfig(cfg).
			WithBusDriver(simrpu.NewDriver()).
			WithEventHandler(&eventRecorder{}).
			WithTaskletFactory((&workFixture{}).newTasklet).
			WithTimerFactory((&workFixture{}).newTimer).
			Build()
		Expect(err).To(Succeed())

		dev, err = hp.AddDevice(bus)
		Expect(err).To(Succeed())

		// Firmware not booted: the wake path stays out of the way and
		// the HPQ table can be planted directly.
		dev.rpuInfo.hpq = rpu.HPQInfo{
			CmdAvlQueue:  rpu.HPQ{EnqueueAddr: 0x1000, DequeueAddr: avlDeq},
			CmdBusyQueue: rpu.HPQ{EnqueueAddr: busyEnq, DequeueAddr: 0x100C},
		}

		bus.EXPECT().ReadReg(avlDeq).Return(bufAddr, nil).AnyTimes()
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("should abort the drain on a copy failure and keep the rest queued", func() {
		busErr := errors.New("link down")
		gomock.InOrder(
			bus.EXPECT().WriteMem(bufAddr, gomock.Any()).Return(nil),
			bus.EXPECT().WriteMem(bufAddr, gomock.Any()).Return(busErr),
		)
		bus.EXPECT().WriteReg(busyEnq, bufAddr).Return(nil)
		bus.EXPECT().
			WriteReg(rpu.RegIntToMCUCtrl, uint32(0)|rpu.CmdTriggerMark).
			Return(nil)

		err := dev.SendCtrlCommand(make([]byte, 3*cfg.MaxCmdSize))

		Expect(errors.Is(err, busErr)).To(BeTrue())
		Expect(dev.CmdQueueLen()).To(Equal(1))
		Expect(dev.NumCmds()).To(Equal(uint32(1)))
	})

	It("should not advance the command counter on a doorbell failure", func() {
		busErr := errors.New("link down")
		bus.EXPECT().WriteMem(bufAddr, gomock.Any()).Return(nil)
		bus.EXPECT().WriteReg(busyEnq, bufAddr).Return(nil)
		bus.EXPECT().
			WriteReg(rpu.RegIntToMCUCtrl, uint32(0)|rpu.CmdTriggerMark).
			Return(busErr)

		err := dev.SendCtrlCommand(make([]byte, 2*cfg.MaxCmdSize))

		Expect(errors.Is(err, busErr)).To(BeTrue())
		Expect(dev.CmdQueueLen()).To(Equal(1))
		Expect(dev.NumCmds()).To(Equal(uint32(0)))
	})
})

var _ = Describe("PostRXBuffer", func() {
	var s *testSetup

	BeforeEach(func() {
		s = newTestSetup(fastConfig(), simrpu.DefaultConfig())
		Expect(s.dev.Init()).To(Succeed())
	})

	It("should post the buffer on the selected queue without a doorbell", func() {
		before := len(s.sim.Triggers())

		Expect(s.dev.PostRXBuffer(1, 0xB0020000)).To(Succeed())

		Expect(s.sim.RXPosted(1)).To(Equal([]uint32{0xB0020000}))
		Expect(s.sim.Triggers()).To(HaveLen(before))
	})

	It("should keep queues independent", func() {
		Expect(s.dev.PostRXBuffer(0, 0xB0020000)).To(Succeed())
		Expect(s.dev.PostRXBuffer(2, 0xB0030000)).To(Succeed())

		Expect(s.sim.RXPosted(0)).To(Equal([]uint32{0xB0020000}))
		Expect(s.sim.RXPosted(1)).To(BeEmpty())
		Expect(s.sim.RXPosted(2)).To(Equal([]uint32{0xB0030000}))
	})

	It("should reject out-of-range queue ids", func() {
		Expect(s.dev.PostRXBuffer(-1, 0xB0020000)).To(MatchError(ErrInvalidQueueID))
		Expect(s.dev.PostRXBuffer(rpu.MaxRxQueues, 0xB0020000)).
			To(MatchError(ErrInvalidQueueID))
	})

	It("should reject a nil device", func() {
		var d *DeviceCtx
		Expect(d.PostRXBuffer(0, 0xB0020000)).To(MatchError(ErrNilDevice))
	})
})

var _ = Describe("Message plumbing", func() {
	var s *testSetup

	BeforeEach(func() {
		s = newTestSetup(fastConfig(), simrpu.DefaultConfig())
		Expect(s.dev.Init()).To(Succeed())
	})

	It("should only wait for buffers of the control type", func() {
		err := s.dev.readyWait(MsgTypeCmdDataTX)
		Expect(errors.Is(err, ErrInvalidMsgType)).To(BeTrue())
	})

	It("should only resolve buffer addresses for the control type", func() {
		_, err := s.dev.msgGetAddr(MsgTypeCmdDataRX)
		Expect(errors.Is(err, ErrInvalidMsgType)).To(BeTrue())
	})

	It("should reject posts of unknown message types", func() {
		err := s.dev.msgPost(MsgType(99), 0, 0xB0010000)
		Expect(errors.Is(err, ErrInvalidMsgType)).To(BeTrue())
	})
})
