// Package typename resolves stable type names for event payloads without
// forcing every event to implement a naming method.
package typename

import (
	"reflect"
	"sync"
)

var (
	mu    sync.RWMutex
	cache = map[reflect.Type]string{}
)

// Of returns the package-qualified name of x's type, dereferencing pointers.
func Of(x any) string { return ForType(reflect.TypeOf(x)) }

// For returns the package-qualified name of T.
func For[T any]() string { return ForType(reflect.TypeOf((*T)(nil)).Elem()) }

func ForType(t reflect.Type) string {
	if t == nil {
		return ""
	}

	mu.RLock()
	name, ok := cache[t]
	mu.RUnlock()
	if ok {
		return name
	}

	e := t
	if e.Kind() == reflect.Pointer {
		e = e.Elem()
	}
	name = e.PkgPath() + "." + e.Name()

	mu.Lock()
	cache[t] = name
	mu.Unlock()
	return name
}
