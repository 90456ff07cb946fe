package document

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saros-project/saros-sub040/internal/op"
)

func TestBuffer_Apply(t *testing.T) {
	b := NewBuffer("core")

	require.NoError(t, b.Apply(op.NewInsert(3, "f")))
	assert.Equal(t, "corfe", b.Text())
	assert.Equal(t, 5, b.Len())
}

func TestBuffer_RejectedOperationLeavesText(t *testing.T) {
	b := NewBuffer("core")

	err := b.Apply(op.NewDelete(2, "xyz"))
	require.Error(t, err)
	assert.True(t, op.IsApplyError(err))
	assert.Equal(t, "core", b.Text())
}

func TestBuffer_LenCountsRunes(t *testing.T) {
	assert.Equal(t, 5, NewBuffer("héllo").Len())
	assert.Equal(t, 0, NewBuffer("").Len())
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer("core")
	b.Reset("coffe")
	assert.Equal(t, "coffe", b.Text())
}

func TestBuffer_ConcurrentApply(t *testing.T) {
	b := NewBuffer("")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Apply(op.NewInsert(0, "x"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, b.Len())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"bare cr", "a\rb", "a\nb"},
		{"decomposed to composed", "e\u0301", "\u00e9"},
		{"already normal", "coffe", "coffe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, IsNormalized(got))
		})
	}

	assert.False(t, IsNormalized("e\u0301"))
	assert.False(t, IsNormalized("a\r\n"))
}

func TestNormalizeOp(t *testing.T) {
	tests := []struct {
		name string
		in   op.Operation
		want op.Operation
	}{
		{"decomposed insert", op.NewInsert(1, "e\u0301"), op.NewInsert(1, "\u00e9")},
		{"crlf insert", op.NewInsert(0, "a\r\n"), op.NewInsert(0, "a\n")},
		{"delete untouched", op.NewDelete(0, "e\u0301"), op.NewDelete(0, "e\u0301")},
		{"noop", op.NoOp{}, op.NoOp{}},
		{
			"composite keeps length-changing children",
			op.NewComposite(op.NewInsert(0, "e\u0301"), op.NewInsert(2, "\u212b")),
			op.NewComposite(op.NewInsert(0, "e\u0301"), op.NewInsert(2, "\u00c5")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeOp(tt.in))
		})
	}
}

func TestChecksum(t *testing.T) {
	a := Checksum("coffe")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Checksum("coffe"), "checksum must be stable")
	assert.NotEqual(t, a, Checksum("coffee"))
	assert.NotEqual(t, Checksum(""), Checksum("\x00"))
}
