package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

const nonceCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Nonce genera el campo "n" de las operaciones del mercado: evita que dos
// broadcasts idénticos colisionen en el mismo bloque.
func Nonce(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = nonceCharset[rand.IntN(len(nonceCharset))]
	}
	return string(b)
}

// Sleep espera d o hasta que ctx se cancele.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
