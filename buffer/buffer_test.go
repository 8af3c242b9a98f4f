package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChainedAppendAndBytes(t *testing.T) {
	b := New()
	b.Append([]byte("hello, "))
	b.Append([]byte("world"))

	assert.Equal(t, 12, b.Size())
	assert.Equal(t, "hello, world", string(b.Bytes()))
	assert.Len(t, b.Chunks(), 2)
}

func TestChainedAppendCopiesSource(t *testing.T) {
	src := []byte("mutable")
	b := New()
	b.Append(src)
	src[0] = 'X'

	assert.Equal(t, "mutable", string(b.Bytes()))
}

func TestNewFromBytesEmpty(t *testing.T) {
	b := NewFromBytes(nil)
	assert.Equal(t, 0, b.Size())
}

func TestReset(t *testing.T) {
	b := NewFromBytes([]byte("abc"))
	b.Reset()
	assert.Equal(t, 0, b.Size())
	assert.Empty(t, b.Chunks())
}
