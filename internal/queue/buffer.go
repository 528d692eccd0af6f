package queue

import "github.com/ehrlich-b/go-echoq/internal/interfaces"

// echoBuffer holds the payload of the most recent write.
// It is owned by the Controller and only touched under its lock.
type echoBuffer struct {
	alloc interfaces.Allocator
	data  []byte
	valid bool
}

// release frees the current contents, leaving the buffer absent
func (b *echoBuffer) release() {
	if b.valid {
		b.alloc.Free(b.data)
	}
	b.data = nil
	b.valid = false
}

// replace releases the previous contents and stores a copy of payload.
// On allocation failure the buffer is left absent.
func (b *echoBuffer) replace(payload []byte) error {
	b.release()

	buf, err := b.alloc.Alloc(len(payload))
	if err != nil {
		return err
	}
	copy(buf, payload)
	b.data = buf
	b.valid = true
	return nil
}

// present reports whether a write has been stored
func (b *echoBuffer) present() bool { return b.valid }

// len returns the stored payload length
func (b *echoBuffer) len() int { return len(b.data) }

// copyPrefix copies the first n bytes into dst
func (b *echoBuffer) copyPrefix(dst []byte, n int) int {
	return copy(dst[:n], b.data[:n])
}
