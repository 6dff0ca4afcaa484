package eventq

import "time"

// HookPos identifies where in the event loop a hook fires.
type HookPos struct {
	Name string
}

var (
	// HookPosBeforeEvent fires after the clock advances, before the action runs.
	HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}
	// HookPosAfterEvent fires once the action has returned.
	HookPosAfterEvent = &HookPos{Name: "AfterEvent"}
)

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	// Domain is the queue raising this hook.
	Domain *Queue

	// Pos is the loop position the hook fires from.
	Pos *HookPos

	// Item is the event being processed.
	Item *Handle

	// Now is the virtual time of the event.
	Now time.Duration
}

// Hook is a short piece of program that can be invoked by the queue.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f(ctx).
func (f HookFunc) Func(ctx HookCtx) { f(ctx) }

// HookableBase keeps the list of registered hooks.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	return &HookableBase{hookList: make([]Hook, 0)}
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// AcceptHook registers a hook.
//
// Hooks must be registered before the queue starts running; there is no
// removal, so disable work inside the hook if it should stop reacting.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.hookList = append(h.hookList, hook)
}

// InvokeHook triggers the registered hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}
