package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

// XOR-based compression for float64 vectors, after Facebook's Gorilla
// paper (Pelkonen et al., PVLDB Vol. 8 No. 12, 2015, section 4.1.2):
//
//  1. First value: raw 64-bit IEEE 754.
//  2. Subsequent values: XOR with previous value's bits.
//     - XOR == 0: single '0' bit (values identical)
//     - XOR != 0: '1' bit, then:
//     a) leading >= prevLeading and trailing >= prevTrailing:
//     '0' bit + meaningful bits in the previous window width
//     b) otherwise: '1' bit + 6-bit leading count + 6-bit
//     (meaningful length - 1) + meaningful bits
//
// NaN is a regular bit pattern here; the aggregation layer gives NaN its
// semantics, the codec round-trips it untouched.
//
// Payload layout:
//
//	[count: 4 bytes LE]
//	[first value: 8 bytes LE, raw IEEE 754 bits]
//	[XOR bit stream, padded to a byte boundary]

// bitAppender packs MSB-first bit runs into a byte slice through a
// right-aligned accumulator, emitting whole bytes as they fill. At most
// 7 bits ever stay pending between pushes.
type bitAppender struct {
	out     []byte
	acc     uint64
	pending uint
}

func (w *bitAppender) push(v uint64, nbits uint) {
	if nbits > 56 {
		// Keep accumulator shifts below 64 bits: split off the high half
		half := nbits - 32
		w.push(v>>half, 32)
		v &= 1<<half - 1
		nbits = half
	}
	w.acc = w.acc<<nbits | v
	w.pending += nbits
	for w.pending >= 8 {
		w.pending -= 8
		w.out = append(w.out, byte(w.acc>>w.pending))
	}
	w.acc &= (1 << w.pending) - 1
}

// finish pads the pending bits out to a byte boundary with zeros
func (w *bitAppender) finish() []byte {
	if w.pending > 0 {
		w.out = append(w.out, byte(w.acc<<(8-w.pending)))
		w.acc = 0
		w.pending = 0
	}
	return w.out
}

// bitCursor reads MSB-first bit runs from a byte slice, tracking an
// absolute bit offset
type bitCursor struct {
	data []byte
	pos  uint // bit offset from the start of data
}

func (c *bitCursor) take(nbits uint) (uint64, bool) {
	end := c.pos + nbits
	if end > uint(len(c.data))*8 {
		return 0, false
	}
	var v uint64
	for c.pos < end {
		avail := 8 - c.pos&7
		n := end - c.pos
		if n > avail {
			n = avail
		}
		chunk := uint64(c.data[c.pos>>3]>>(avail-n)) & (1<<n - 1)
		v = v<<n | chunk
		c.pos += n
	}
	return v, true
}

// AppendGorillaFloat64 appends the gorilla-encoded payload for values to dst
func AppendGorillaFloat64(dst []byte, values []float64) []byte {
	if len(values) == 0 {
		return dst
	}

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(values)))
	dst = append(dst, scratch[:4]...)

	prevBits := math.Float64bits(values[0])
	binary.LittleEndian.PutUint64(scratch[:8], prevBits)
	dst = append(dst, scratch[:8]...)

	// Typical streams land near 2 bytes/value; worst case is 78 bits.
	w := bitAppender{out: make([]byte, 0, len(values)*2)}

	prevLeading := uint8(64) // no window yet
	prevTrailing := uint8(0)
	prevMeaning := uint8(64)

	for i := 1; i < len(values); i++ {
		currentBits := math.Float64bits(values[i])
		xor := prevBits ^ currentBits

		if xor == 0 {
			w.push(0, 1)
			prevBits = currentBits
			continue
		}
		w.push(1, 1)

		leading := uint8(bits.LeadingZeros64(xor))
		trailing := uint8(bits.TrailingZeros64(xor))
		if leading > 63 {
			leading = 63
		}
		meaning := 64 - leading - trailing

		if prevMeaning < 64 && leading >= prevLeading && trailing >= prevTrailing {
			// Meaningful bits fit within the previous window
			w.push(0, 1)
			w.push(xor>>prevTrailing, uint(prevMeaning))
		} else {
			// New window: leading(6) + (meaning-1)(6) + meaningful bits
			w.push(1, 1)
			w.push(uint64(leading), 6)
			w.push(uint64(meaning-1), 6)
			w.push(xor>>trailing, uint(meaning))

			prevLeading = leading
			prevTrailing = trailing
			prevMeaning = meaning
		}
		prevBits = currentBits
	}

	return append(dst, w.finish()...)
}

// DecodeGorillaFloat64 decodes a gorilla payload into dst, which must be
// exactly count*8 bytes; each value's IEEE 754 bits are written
// little-endian at row*8.
func DecodeGorillaFloat64(payload []byte, count int, dst []byte) error {
	if count == 0 {
		return nil
	}
	if len(dst) != count*8 {
		return fmt.Errorf("dst size %d does not match %d rows", len(dst), count)
	}
	if len(payload) < 12 {
		return fmt.Errorf("payload too short for header")
	}

	stored := int(binary.LittleEndian.Uint32(payload))
	if stored != count {
		return fmt.Errorf("row count mismatch: expected %d, got %d", count, stored)
	}

	prevBits := binary.LittleEndian.Uint64(payload[4:])
	binary.LittleEndian.PutUint64(dst, prevBits)

	c := bitCursor{data: payload[12:]}
	prevTrailing := uint8(0)
	prevMeaning := uint8(64)

	for i := 1; i < count; i++ {
		ctrl, ok := c.take(1)
		if !ok {
			return fmt.Errorf("truncated bitstream at row %d", i)
		}
		if ctrl == 0 {
			// XOR == 0, value repeats
			binary.LittleEndian.PutUint64(dst[i*8:], prevBits)
			continue
		}

		windowCtrl, ok := c.take(1)
		if !ok {
			return fmt.Errorf("truncated bitstream at row %d", i)
		}

		var xor uint64
		if windowCtrl == 0 {
			meaningful, ok := c.take(uint(prevMeaning))
			if !ok {
				return fmt.Errorf("truncated bitstream at row %d", i)
			}
			xor = meaningful << prevTrailing
		} else {
			header, ok := c.take(12)
			if !ok {
				return fmt.Errorf("truncated bitstream at row %d", i)
			}
			leading := uint8(header >> 6)
			meaning := uint8(header&0x3F) + 1 // stored as meaning-1
			trailing := 64 - leading - meaning

			meaningful, ok := c.take(uint(meaning))
			if !ok {
				return fmt.Errorf("truncated bitstream at row %d", i)
			}
			xor = meaningful << trailing

			prevTrailing = trailing
			prevMeaning = meaning
		}

		prevBits ^= xor
		binary.LittleEndian.PutUint64(dst[i*8:], prevBits)
	}
	return nil
}

// DecodeGorillaFloat64Slice decodes a gorilla payload into a fresh []float64
func DecodeGorillaFloat64Slice(payload []byte, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}
	dst := make([]byte, count*8)
	if err := DecodeGorillaFloat64(payload, count, dst); err != nil {
		return nil, err
	}
	values := make([]float64, count)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(dst[i*8:]))
	}
	return values, nil
}
