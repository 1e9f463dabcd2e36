package audio

// Assembler re-slices a stream of variable-length PCM chunks into fixed-size
// frames. Sources that deliver audio in arbitrary packet sizes (websocket
// messages, decoded Opus packets, file reads) write into an Assembler and pull
// whole frames out of it.
//
// The zero value is ready to use. An Assembler is not safe for concurrent use.
type Assembler struct {
	buf []byte
}

// Write appends pcm to the pending data.
func (a *Assembler) Write(pcm []byte) {
	a.buf = append(a.buf, pcm...)
}

// Next fills f with the oldest pending bytes and rewinds it. It reports false,
// leaving f untouched, when fewer than f.Len() bytes are pending.
func (a *Assembler) Next(f *Frame) bool {
	n := f.Len()
	if len(a.buf) < n {
		return false
	}
	copy(f.Bytes(), a.buf[:n])
	a.buf = a.buf[:copy(a.buf, a.buf[n:])]
	f.Rewind()
	return true
}

// Buffered returns the number of pending bytes.
func (a *Assembler) Buffered() int { return len(a.buf) }

// Reset discards pending data while keeping the allocated capacity.
func (a *Assembler) Reset() { a.buf = a.buf[:0] }
