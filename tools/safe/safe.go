package safe

import (
	"fmt"
	"reflect"

	"PRelay/logger"
	"PRelay/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies at construction time.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts a new goroutine that recovers from panic,
// so that one broken task does not crash the relay.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run calls f on the current goroutine and converts a panic into a log line.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[safe] panic recovered", zap.String("task", name), zap.Error(errs.ErrPanic(r)))
		}
	}()
	f()
}
