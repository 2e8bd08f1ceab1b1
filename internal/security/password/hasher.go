package password

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Hasher corre argon2 en un pool acotado para que el hashing (CPU-bound y
// lento a propósito) no se coma todos los cores que atienden I/O.
type Hasher struct {
	params Params
	sem    *semaphore.Weighted
}

// NewHasher crea un Hasher; concurrency <= 0 usa GOMAXPROCS/2 (mínimo 1).
func NewHasher(p Params, concurrency int) *Hasher {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0) / 2
		if concurrency < 1 {
			concurrency = 1
		}
	}
	return &Hasher{params: p, sem: semaphore.NewWeighted(int64(concurrency))}
}

// Hash espera un slot libre (o la cancelación del contexto) y hashea.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)
	return Hash(h.params, plain)
}

// Verify usa el mismo pool que Hash.
func (h *Hasher) Verify(ctx context.Context, plain, phc string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)
	return Verify(plain, phc), nil
}
