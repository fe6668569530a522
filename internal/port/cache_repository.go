package port

import "context"

type IdempotencyStore interface {
	// SetIdempotency reserves a key, returns false if already reserved
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key whose request was rejected
	ReleaseIdempotency(ctx context.Context, key string) error
}
