package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds the handler of a registered operator from its
// arguments.
type Constructor[A any] func(args A) Handler

// registry maps operator names to constructors. Values are Constructor[A]
// for the A chosen at registration; Use recovers it with a type assertion.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]any)
)

// Register makes an operator available to Use under name. Registering a
// name twice replaces the earlier constructor.
func Register[A any](name string, ctor Constructor[A]) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// RegisterPayload registers a payload level operator.
func RegisterPayload[A any](name string, ctor func(args A) PayloadHandler) {
	Register[A](name, func(args A) Handler {
		return Lift(ctor(args))
	})
}

// Operators lists the registered operator names.
func Operators() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use appends the operator registered under name, built from args. An
// unknown name or arguments of another type than the registered one are
// recorded as configuration errors.
func Use[A any](t *Task, name string, args A) *Task {
	registryMu.RLock()
	entry, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return t.fail(fmt.Errorf("%w: %q", ErrUnknownOperator, name))
	}
	ctor, ok := entry.(Constructor[A])
	if !ok {
		return t.fail(fmt.Errorf("%w: %q does not take %T", ErrUnknownOperator, name, args))
	}
	return t.AppendStage(name, ctor(args))
}
