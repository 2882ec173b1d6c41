package hal

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JordanYates/nrf-wifi/bal/simrpu"
)

var _ = Describe("MsgQueue", func() {
	var q *MsgQueue

	BeforeEach(func() {
		q = NewMsgQueue()
	})

	It("should start empty", func() {
		Expect(q.Size()).To(Equal(0))
		Expect(q.Pop()).To(BeNil())
	})

	It("should pop in push order", func() {
		q.Push(&Msg{ID: "a"})
		q.Push(&Msg{ID: "b"})
		q.Push(&Msg{ID: "c"})

		Expect(q.Pop().ID).To(Equal("a"))
		Expect(q.Pop().ID).To(Equal("b"))
		Expect(q.Pop().ID).To(Equal("c"))
		Expect(q.Pop()).To(BeNil())
	})

	It("should track its size", func() {
		q.Push(&Msg{ID: "a"})
		q.Push(&Msg{ID: "b"})
		Expect(q.Size()).To(Equal(2))

		q.Pop()
		Expect(q.Size()).To(Equal(1))
	})

	It("should discard everything on clear", func() {
		q.Push(&Msg{ID: "a"})
		q.Push(&Msg{ID: "b"})

		q.Clear()

		Expect(q.Size()).To(Equal(0))
		Expect(q.Pop()).To(BeNil())
	})
})

type recordingHook struct {
	ctxs []HookCtx
}

func (h *recordingHook) Func(ctx HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

var _ = Describe("Hooks", func() {
	It("should invoke every registered hook", func() {
		var base HookableBase
		h1 := &recordingHook{}
		h2 := &recordingHook{}

		base.AcceptHook(h1)
		base.AcceptHook(h2)
		Expect(base.NumHooks()).To(Equal(2))

		base.InvokeHook(HookCtx{Pos: HookPosCmdPost})

		Expect(h1.ctxs).To(HaveLen(1))
		Expect(h2.ctxs).To(HaveLen(1))
		Expect(h1.ctxs[0].Pos).To(Equal(HookPosCmdPost))
	})

	It("should fire at the command-post and event-delivery points", func() {
		s := newTestSetup(fastConfig(), simrpu.DefaultConfig())
		Expect(s.dev.Init()).To(Succeed())

		h := &recordingHook{}
		s.dev.AcceptHook(h)

		Expect(s.dev.SendCtrlCommand([]byte{0x01})).To(Succeed())

		s.sim.InjectEvent([]byte{0x02})
		s.fx.eventWork().Run()

		Expect(h.ctxs).To(HaveLen(2))
		Expect(h.ctxs[0].Pos).To(Equal(HookPosCmdPost))
		Expect(h.ctxs[0].Addr).NotTo(BeZero())
		Expect(h.ctxs[1].Pos).To(Equal(HookPosEventDeliver))
		Expect(h.ctxs[1].Msg.Data).To(Equal([]byte{0x02}))
	})
})
