package atl

import (
	"encoding/binary"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/OpenFAM/OpenFAM-sub004/fabric"
)

func TestATL(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ATL suite")
}

type famPool struct {
	buf []byte
}

func (p *famPool) GetLocalPointer(regionID, offset uint64) ([]byte, error) {
	return p.buf[offset:], nil
}

var _ = Describe("Manager", func() {
	It("rejects pushes when no workers are configured", func() {
		pool := &famPool{buf: make([]byte, 4096)}
		lo := fabric.NewLoopback("t0", fabric.ProgressAuto)
		m := NewManager(0, 16, pool, lo, nil)
		Expect(m.Enabled()).To(BeFalse())

		err := m.Push(1, 0, &Message{})
		Expect(err).To(HaveOccurred())
	})

	It("rejects pushes once a shard's queue is full", func() {
		pool := &famPool{buf: make([]byte, 4096)}
		lo := fabric.NewLoopback("t0", fabric.ProgressAuto)
		m := NewManager(1, 2, pool, lo, nil)

		Expect(m.Push(1, 0, &Message{})).To(Succeed())
		Expect(m.Push(1, 0, &Message{})).To(Succeed())
		err := m.Push(1, 0, &Message{})
		Expect(err).To(HaveOccurred())
	})

	It("applies a scalar atomic's set/add round trip", func() {
		pool := &famPool{buf: make([]byte, 4096)}
		lo := fabric.NewLoopback("t0", fabric.ProgressAuto)
		m := NewManager(4, 1024, pool, lo, nil)
		m.Start()
		defer m.Stop()

		binary.LittleEndian.PutUint32(pool.buf[0:4], 0x1234)

		msg := &Message{Flag: FlagAtomic, AtomicOp: AtomicSet, Width: WidthInt32}
		binary.LittleEndian.PutUint32(msg.Inline[:4], 0x2468)
		Expect(m.Push(1, 0, msg)).To(Succeed())

		Eventually(func() bool { return msg.Flag.has(FlagWriteCompleted) }, time.Second, time.Millisecond).Should(BeTrue())
		Expect(binary.LittleEndian.Uint32(pool.buf[0:4])).To(Equal(uint32(0x2468)))

		msg2 := &Message{Flag: FlagAtomic, AtomicOp: AtomicAdd, Width: WidthInt32}
		binary.LittleEndian.PutUint32(msg2.Inline[:4], 0x1000)
		Expect(m.Push(1, 0, msg2)).To(Succeed())
		Eventually(func() bool { return msg2.Flag.has(FlagWriteCompleted) }, time.Second, time.Millisecond).Should(BeTrue())
		Expect(binary.LittleEndian.Uint32(pool.buf[0:4])).To(Equal(uint32(0x2468 + 0x1000)))
	})

	It("scatter-stride writes elements from the client buffer at the requested stride", func() {
		pool := &famPool{buf: make([]byte, 8192)}
		lo := fabric.NewLoopback("t0", fabric.ProgressAuto)
		clientBuf := make([]byte, 100*64)
		for i := range clientBuf {
			clientBuf[i] = byte(i % 256)
		}
		mr, err := lo.RegisterMemory(55, clientBuf, fabric.AccessRO)
		Expect(err).NotTo(HaveOccurred())

		m := NewManager(4, 1024, pool, lo, nil)
		m.Start()
		defer m.Stop()

		msg := &Message{
			Flag:            FlagScatterStride,
			ClientMemoryKey: mr.Key,
			Operands:        Operands{FirstElement: 1000, Stride: 64, ElementSize: 64, NElements: 100},
		}
		Expect(m.Push(1, 0, msg)).To(Succeed())
		Eventually(func() bool { return msg.Flag.has(FlagWriteCompleted) }, time.Second, time.Millisecond).Should(BeTrue())
		Expect(msg.Err).NotTo(HaveOccurred())

		for i := 0; i < 100; i++ {
			off := 1000 + i*64
			got := pool.buf[off : off+64]
			want := clientBuf[i*64 : i*64+64]
			Expect(got).To(Equal(want))
		}
	})
})
