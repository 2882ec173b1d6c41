package hal

// HookPos identifies where in the driver a hook fires.
type HookPos struct {
	Name string
}

// HookPosCmdPost fires after a command fragment has been copied to the
// RPU and posted on the busy queue.
var HookPosCmdPost = &HookPos{Name: "CmdPost"}

// HookPosEventDeliver fires after an event has been handed to the
// upper-layer callback.
var HookPosEventDeliver = &HookPos{Name: "EventDeliver"}

// HookCtx holds the information about the site that triggered a hook.
type HookCtx struct {
	Dev  *DeviceCtx
	Pos  *HookPos
	Msg  *Msg
	Addr uint32
}

// Hook is a short piece of program that a device invokes at traffic
// observation points. Hooks must not mutate the message.
type Hook interface {
	Func(ctx HookCtx)
}

// A HookableBase provides hook registration and invocation for the
// device context.
type HookableBase struct {
	hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

// NumHooks returns the number of registered hooks.
func (h *HookableBase) NumHooks() int {
	return len(h.hooks)
}

// InvokeHook triggers the registered hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
