package ringbuf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tznak/rollback-core/ringbuf"
)

func TestBuffer_WrapAround(t *testing.T) {
	b := ringbuf.New[int](4)

	for i := int64(0); i < 4; i++ {
		b.Set(i, int(i)*10)
	}

	require.Equal(t, 0, b.At(0))
	require.Equal(t, 30, b.At(3))

	// Writing index 4 aliases slot 0 (4 mod 4 == 0).
	b.Set(4, 999)
	require.Equal(t, 999, b.At(0))
	require.Equal(t, 999, b.At(4))
}

func TestBuffer_NegativeIndex(t *testing.T) {
	b := ringbuf.New[string](5)

	b.Set(0, "zero")
	b.Set(2, "two")

	// -5 mod 5 == 0 under conventional modular reduction.
	require.Equal(t, "zero", b.At(-5))
	// -3 mod 5 == 2.
	require.Equal(t, "two", b.At(-3))
}

func TestBuffer_CapAndPanic(t *testing.T) {
	b := ringbuf.New[int](7)
	require.Equal(t, 7, b.Cap())

	require.Panics(t, func() {
		ringbuf.New[int](0)
	})
}
