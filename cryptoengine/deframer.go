package cryptoengine

import "encoding/binary"

// Deframer splits the plaintext byte stream CipherDecodeContext
// produces back into the original blocks Update was called with,
// using the 4-byte big-endian length header each one carries.
type Deframer struct {
	buf []byte
}

// Feed appends newly decrypted bytes and returns every complete frame
// now available, in order.
func (d *Deframer) Feed(plaintext []byte) [][]byte {
	d.buf = append(d.buf, plaintext...)
	var frames [][]byte
	for {
		if len(d.buf) < 4 {
			return frames
		}
		n := binary.BigEndian.Uint32(d.buf)
		if uint32(len(d.buf)-4) < n {
			return frames
		}
		frame := make([]byte, n)
		copy(frame, d.buf[4:4+n])
		frames = append(frames, frame)
		d.buf = d.buf[4+n:]
	}
}

// Finish discards whatever bytes remain unconsumed: PKCS#7 padding
// left over from the final encrypted block, never a real frame.
func (d *Deframer) Finish() {
	d.buf = nil
}
