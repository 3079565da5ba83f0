package formats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/stiffinWanjohi/medrelay/internal/domain"
)

// ErrRejected is returned when a script declines a message.
var ErrRejected = errors.New("message rejected by script")

const (
	interruptTimeout   = "script timeout"
	interruptCancelled = "context cancelled"

	// DefaultScriptTimeout bounds a single handle() call.
	DefaultScriptTimeout = time.Second
)

// ScriptVerdict is the decision returned by a script.
type ScriptVerdict struct {
	Accept bool   `json:"accept"`
	Reason string `json:"reason,omitempty"`
}

// ScriptHandler gates messages through a JavaScript function:
//
//	function handle(message) {
//	    // message.type is "v2", "v3" or "fhir"; message.payload is the text
//	    return {accept: true};
//	}
//
// Accepted messages are passed to Next when set; otherwise the verdict is
// the handler output. Each call runs in a fresh runtime.
type ScriptHandler struct {
	program *goja.Program
	timeout time.Duration
	Next    domain.Handler
}

var _ domain.Handler = (*ScriptHandler)(nil)

// NewScriptHandler compiles source and checks that it defines handle.
func NewScriptHandler(source string, timeout time.Duration, next domain.Handler) (*ScriptHandler, error) {
	program, err := goja.Compile("handler.js", source, true)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	h := &ScriptHandler{program: program, timeout: timeout, Next: next}

	vm, stop := h.runtime(context.Background())
	defer stop()
	if _, err := h.entrypoint(vm); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *ScriptHandler) Handle(ctx context.Context, payload []byte, t domain.MessageType) (any, error) {
	vm, stop := h.runtime(ctx)
	defer stop()

	handle, err := h.entrypoint(vm)
	if err != nil {
		return nil, err
	}

	out, err := handle(goja.Undefined(), vm.ToValue(map[string]any{
		"type":    t.String(),
		"payload": string(payload),
	}))
	if err != nil {
		return nil, scriptError(err)
	}

	verdict, err := exportVerdict(vm, out)
	if err != nil {
		return nil, err
	}
	if !verdict.Accept {
		if verdict.Reason == "" {
			return nil, ErrRejected
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, verdict.Reason)
	}

	if h.Next != nil {
		return h.Next.Handle(ctx, payload, t)
	}
	return verdict, nil
}

// runtime creates a runtime that is interrupted on timeout or when ctx ends.
// Call stop to release the timer and context hook.
func (h *ScriptHandler) runtime(ctx context.Context) (*goja.Runtime, func()) {
	vm := goja.New()

	timer := time.AfterFunc(h.timeout, func() { vm.Interrupt(interruptTimeout) })
	unhook := context.AfterFunc(ctx, func() { vm.Interrupt(interruptCancelled) })

	return vm, func() {
		timer.Stop()
		unhook()
	}
}

func (h *ScriptHandler) entrypoint(vm *goja.Runtime) (goja.Callable, error) {
	if _, err := vm.RunProgram(h.program); err != nil {
		return nil, scriptError(err)
	}
	handle, ok := goja.AssertFunction(vm.Get("handle"))
	if !ok {
		return nil, errors.New("script must define a handle(message) function")
	}
	return handle, nil
}

func exportVerdict(vm *goja.Runtime, v goja.Value) (ScriptVerdict, error) {
	if !present(v) {
		return ScriptVerdict{}, errors.New("handle must return an object")
	}
	obj := v.ToObject(vm)

	var verdict ScriptVerdict
	if accept := obj.Get("accept"); accept != nil {
		verdict.Accept = accept.ToBoolean()
	}
	if reason := obj.Get("reason"); present(reason) {
		verdict.Reason = reason.String()
	}
	return verdict, nil
}

func present(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if interrupted.Value() == interruptCancelled {
			return fmt.Errorf("script: %w", context.Canceled)
		}
		return domain.ErrScriptTimeout
	}
	return fmt.Errorf("script: %w", err)
}
