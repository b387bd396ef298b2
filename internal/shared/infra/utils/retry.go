package utils

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry ejecuta fn hasta attempts veces con backoff exponencial desde delay.
// Los errores que coinciden con alguno de permanent (errors.Is) cortan los reintentos.
func Retry(ctx context.Context, attempts uint, delay time.Duration, fn func() error, permanent ...error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = 8 * delay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		for _, p := range permanent {
			if err != nil && errors.Is(err, p) {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}
