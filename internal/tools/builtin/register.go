package builtin

import "github.com/revittco/agentrun/internal/toolreg"

// RegisterAll registers every builtin tool into reg, for callers (such as
// this package's tests) that want the full reference catalog rather than
// picking individual tools; cmd/agentrund builds MathAdd and
// CalendarUpdate individually.
func RegisterAll(reg *toolreg.Registry) error {
	for _, t := range []*toolreg.Tool{MathAdd(), CalendarUpdate()} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
