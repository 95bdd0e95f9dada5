// Package clock provides the time oracle for the settlement engine. The
// engine never reads the wall clock directly; every instruction is stamped
// through a Clock so tests and replay control time explicitly.
package clock

import "time"

// Clock returns the current time as epoch seconds.
type Clock interface {
	Now() int64
}

// System reads the wall clock.
type System struct{}

func (System) Now() int64 {
	return time.Now().Unix()
}
