// Package ringbuf implementa buffers circulares de capacidade fixa.
package ringbuf

// Ring é um buffer circular de capacidade fixa. Ao exceder a capacidade o
// elemento mais antigo é descartado. Não é seguro para uso concorrente.
type Ring[T any] struct {
	items []T
	head  int // posição do elemento mais antigo
	size  int
}

// NewRing cria um buffer com a capacidade informada (mínimo 1)
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push adiciona um elemento e informa se o mais antigo foi descartado
func (r *Ring[T]) Push(v T) bool {
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = v
		r.size++
		return false
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	return true
}

// Len retorna a quantidade de elementos armazenados
func (r *Ring[T]) Len() int { return r.size }

// Cap retorna a capacidade do buffer
func (r *Ring[T]) Cap() int { return len(r.items) }

// Last retorna cópia dos últimos n elementos, do mais antigo para o mais recente
func (r *Ring[T]) Last(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, n)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}

// Newest retorna o elemento mais recente
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.head+r.size-1)%len(r.items)], true
}

// Clear remove todos os elementos
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
