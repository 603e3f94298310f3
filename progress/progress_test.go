package progress

import (
	"testing"
	"time"

	"github.com/OpenFAM/OpenFAM-sub004/fabric"
)

func TestDriverNoOpInAutoMode(t *testing.T) {
	lo := fabric.NewLoopback("t0", fabric.ProgressAuto)
	d := New(lo)
	d.Start()
	done := make(chan struct{})
	go func() { d.Join(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driver did not exit immediately in auto mode")
	}
}

func TestDriverHaltStopsManualLoop(t *testing.T) {
	lo := fabric.NewLoopback("t0", fabric.ProgressManual)
	d := New(lo)
	d.Start()
	time.Sleep(10 * time.Millisecond)
	d.Halt()

	done := make(chan struct{})
	go func() { d.Join(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driver did not exit after Halt")
	}
}

func TestDriverHaltIdempotent(t *testing.T) {
	lo := fabric.NewLoopback("t0", fabric.ProgressManual)
	d := New(lo)
	d.Start()
	d.Halt()
	d.Halt()
	d.Join()
}
