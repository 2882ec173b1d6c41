package hal

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/JordanYates/nrf-wifi/bal/simrpu"
	"github.com/JordanYates/nrf-wifi/rpu"
)

var _ = Describe("Boot sequencing", func() {
	var s *testSetup

	BeforeEach(func() {
		s = newTestSetup(fastConfig(), simrpu.DefaultConfig())
		Expect(s.dev.Init()).To(Succeed())
	})

	It("should reset the LMAC through the pulsed control register", func() {
		Expect(s.dev.ResetProc(rpu.ProcTypeLMAC)).To(Succeed())
		Expect(s.dev.CheckBootSignature(rpu.ProcTypeLMAC)).To(Succeed())
	})

	It("should reset the UMAC through its own control register", func() {
		Expect(s.dev.ResetProc(rpu.ProcTypeUMAC)).To(Succeed())
		Expect(s.dev.CheckBootSignature(rpu.ProcTypeUMAC)).To(Succeed())
	})

	It("should restore the LMAC processor context after a UMAC reset", func() {
		Expect(s.dev.ResetProc(rpu.ProcTypeUMAC)).To(Succeed())
		Expect(s.dev.curProc).To(Equal(rpu.ProcTypeLMAC))
	})

	It("should time out when the reset never self-clears", func() {
		simCfg := simrpu.DefaultConfig()
		simCfg.ResetClearAfter = -1
		s = newTestSetup(fastConfig(), simCfg)
		Expect(s.dev.Init()).To(Succeed())

		err := s.dev.ResetProc(rpu.ProcTypeLMAC)

		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
		Expect(s.dev.curProc).To(Equal(rpu.ProcTypeLMAC))
	})

	It("should accept a planted boot signature without a reset", func() {
		Expect(s.sim.WriteBootSig(rpu.ProcTypeUMAC)).To(Succeed())
		Expect(s.dev.CheckBootSignature(rpu.ProcTypeUMAC)).To(Succeed())
	})

	It("should reject unknown processors", func() {
		Expect(s.dev.ResetProc(rpu.ProcTypeMax)).To(HaveOccurred())
		Expect(s.dev.CheckBootSignature(rpu.ProcTypeMax)).To(HaveOccurred())
	})

	It("should reject a nil device", func() {
		var d *DeviceCtx
		Expect(d.ResetProc(rpu.ProcTypeLMAC)).To(MatchError(ErrNilDevice))
		Expect(d.CheckBootSignature(rpu.ProcTypeLMAC)).To(MatchError(ErrNilDevice))
	})
})

var _ = Describe("Boot signature polling budget", func() {
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
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("should attempt exactly timeout/interval signature reads before failing", func() {
		attempts := int(cfg.BootTimeout / cfg.BootPollInterval)
		bus.EXPECT().
			ReadMem(rpu.MemLMACBootSig, gomock.Any()).
			Return(nil).
			Times(attempts)

		err := dev.CheckBootSignature(rpu.ProcTypeLMAC)

		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
	})

	It("should count read failures against the reset polling budget", func() {
		busErr := errors.New("link down")
		bus.EXPECT().WriteReg(rpu.RegMCUControl, uint32(1)).Return(nil)
		bus.EXPECT().
			ReadReg(rpu.RegMCUControl).
			Return(uint32(0), busErr).
			Times(cfg.RegPollAttempts)

		err := dev.ResetProc(rpu.ProcTypeLMAC)

		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
	})
})
