package logging

import (
	"fmt"
	"runtime/debug"
)

// PanicError is a panic recovered by Guard.
type PanicError struct {
	Component string
	Value     any
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Component, e.Value)
}

// Guard runs fn and converts a panic into a logged *PanicError.
func Guard(component string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pe := &PanicError{Component: component, Value: rec, Stack: string(debug.Stack())}
			New(component).Error("panic_recovered", map[string]interface{}{"stack": pe.Stack}, pe)
			err = pe
		}
	}()
	return fn()
}

// SafeGo runs fn on its own goroutine. A panic is logged and the goroutine
// ends; the process keeps running.
func SafeGo(component string, fn func()) {
	go func() {
		_ = Guard(component, func() error {
			fn()
			return nil
		})
	}()
}
