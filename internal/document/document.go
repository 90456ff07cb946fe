// Package document is the editor-side adapter: the text buffer operations
// are applied to, normalisation of edited text, and the consistency
// checksum compared between replicas.
package document

import (
	"sync"
	"unicode/utf8"

	"github.com/saros-project/saros-sub040/internal/op"
)

// Document is the live text an algorithm applies transformed operations to.
type Document interface {
	// Apply applies o. A rejected operation leaves the document unchanged.
	Apply(o op.Operation) error

	// Len returns the document length in runes.
	Len() int

	// Text returns the current content.
	Text() string

	// Reset replaces the content, e.g. after resynchronisation.
	Reset(text string)
}

// Buffer is an in-memory Document safe for concurrent use.
type Buffer struct {
	mu   sync.RWMutex
	text string
}

// NewBuffer creates a buffer holding text.
func NewBuffer(text string) *Buffer {
	return &Buffer{text: text}
}

func (b *Buffer) Apply(o op.Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := op.Apply(b.text, o)
	if err != nil {
		return err
	}
	b.text = next
	return nil
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return utf8.RuneCountInString(b.text)
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

func (b *Buffer) Reset(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text = text
}
