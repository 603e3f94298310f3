package fabric

import (
	"fmt"
	"testing"
)

func TestLoopbackReadWriteRoundTrip(t *testing.T) {
	lo := NewLoopback("t0", ProgressAuto)
	backing := make([]byte, 256)
	mr, err := lo.RegisterMemory(42, backing, AccessRW)
	if err != nil {
		t.Fatalf("RegisterMemory: %v", err)
	}

	src := []byte("hello, fam")
	h, err := lo.Write(lo.LocalAddr(), mr.Key, 16, src)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Wait(nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	dst := make([]byte, len(src))
	h, err = lo.Read(lo.LocalAddr(), mr.Key, 16, dst)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := h.Wait(nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(dst) != string(src) {
		t.Fatalf("round trip mismatch: got %q want %q", dst, src)
	}
}

func TestLoopbackInjectedFault(t *testing.T) {
	lo := NewLoopback("t0", ProgressAuto)
	backing := make([]byte, 64)
	mr, _ := lo.RegisterMemory(7, backing, AccessRW)

	lo.InjectFault(mr.Key, errBoom)
	if _, err := lo.Read(lo.LocalAddr(), mr.Key, 0, make([]byte, 4)); err != errBoom {
		t.Fatalf("expected injected fault, got %v", err)
	}
	// fault is consumed: next call succeeds
	if _, err := lo.Read(lo.LocalAddr(), mr.Key, 0, make([]byte, 4)); err != nil {
		t.Fatalf("fault should be one-shot, got %v", err)
	}
}

func TestLoopbackOutOfRange(t *testing.T) {
	lo := NewLoopback("t0", ProgressAuto)
	backing := make([]byte, 16)
	mr, _ := lo.RegisterMemory(1, backing, AccessRW)
	if _, err := lo.Read(lo.LocalAddr(), mr.Key, 10, make([]byte, 10)); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

var errBoom = fmt.Errorf("boom")
