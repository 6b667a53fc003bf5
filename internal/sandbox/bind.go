package sandbox

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// bindPath sets fn at the dotted path under root (e.g. "calendar.update"
// becomes root.calendar.update = fn), creating intermediate plain objects
// as needed.
func bindPath(vm *goja.Runtime, root *goja.Object, path string, fn func(goja.FunctionCall) goja.Value) error {
	segs := strings.Split(path, ".")
	cur := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			return cur.Set(seg, fn)
		}
		val := cur.Get(seg)
		if val == nil || goja.IsUndefined(val) {
			next := vm.NewObject()
			if err := cur.Set(seg, next); err != nil {
				return fmt.Errorf("bind %s: %w", path, err)
			}
			cur = next
			continue
		}
		obj := val.ToObject(vm)
		if obj == nil {
			return fmt.Errorf("bind %s: segment %q is not an object", path, seg)
		}
		cur = obj
	}
	return nil
}
