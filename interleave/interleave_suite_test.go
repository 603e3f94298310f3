package interleave

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestInterleave(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "interleave decomposer suite")
}

var _ = Describe("Decompose", func() {
	It("emits a single chunk when the source is unstriped", func() {
		var chunks []Chunk
		Decompose(100, 500, 1, 4096, 0, func(c Chunk) { chunks = append(chunks, c) })

		Expect(chunks).To(HaveLen(1))
		Expect(chunks[0]).To(Equal(Chunk{ServerIndex: 0, RemoteOffset: 100, LocalOffset: 0, Size: 400, Local: true}))
	})

	It("splits a straddling range into head, full, and tail chunks", func() {
		var chunks []Chunk
		// stripe = 4096, start = 3000 (unaligned), end = 20000 -> spans
		// a partial head, three full stripes, and a partial tail across 2
		// servers.
		Decompose(3000, 20000, 2, 4096, 0, func(c Chunk) { chunks = append(chunks, c) })

		Expect(len(chunks)).To(BeNumerically(">=", 3))

		total := uint64(0)
		for _, c := range chunks {
			total += c.Size
		}
		Expect(total).To(Equal(uint64(20000 - 3000)))

		// Head chunk is unaligned: length S_src - (start mod S_src).
		Expect(chunks[0].Size).To(Equal(uint64(4096 - 3000%4096)))
	})

	It("tags chunks landing on thisServer as local, others as remote", func() {
		var chunks []Chunk
		Decompose(0, 8192, 2, 4096, 1, func(c Chunk) { chunks = append(chunks, c) })

		Expect(chunks).To(HaveLen(2))
		Expect(chunks[0].ServerIndex).To(Equal(0))
		Expect(chunks[0].Local).To(BeFalse())
		Expect(chunks[1].ServerIndex).To(Equal(1))
		Expect(chunks[1].Local).To(BeTrue())
	})

	It("never produces overlapping or out-of-order local offsets", func() {
		var chunks []Chunk
		Decompose(3000, 20000, 2, 4096, 0, func(c Chunk) { chunks = append(chunks, c) })

		var cursor uint64
		for _, c := range chunks {
			Expect(c.LocalOffset).To(Equal(cursor))
			cursor += c.Size
		}
	})
})

var _ = Describe("LocalBufferSize", func() {
	It("returns the full remaining range when the destination spans one server", func() {
		Expect(LocalBufferSize(1, 4096, 9000)).To(Equal(uint64(9000)))
	})

	It("returns the stripe size when the destination spans multiple servers", func() {
		Expect(LocalBufferSize(2, 4096, 9000)).To(Equal(uint64(4096)))
	})

	It("caps at the remaining bytes near the end of a copy", func() {
		Expect(LocalBufferSize(2, 4096, 1000)).To(Equal(uint64(1000)))
	})
})
