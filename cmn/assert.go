package cmn

import "fmt"

// Assert panics if cond is false. Used sparingly, the way the teacher's
// cmn.Assert is: for invariants that must never fail given correct
// calling code (e.g. "heap map mutex acquired"), not for validating
// external input.
func Assert(cond bool) {
	if !cond {
		panic("cmn: assertion failed")
	}
}

// AssertMsg panics with msg if cond is false.
func AssertMsg(cond bool, msg interface{}) {
	if !cond {
		panic(fmt.Sprintf("cmn: assertion failed: %v", msg))
	}
}
