package contracts

import (
	"context"
	"time"
)

// LockerService serializes work on one lab order across mediator replicas.
// TryLock returns the owner token that Unlock and Refresh must present.
type LockerService interface {
	TryLock(ctx context.Context, key string, expiration time.Duration) (bool, string, error)
	Unlock(ctx context.Context, key, lockValue string) error
	// Refresh keeps a lock alive while a saga step outlasts its TTL.
	Refresh(ctx context.Context, key, lockValue string, expiration time.Duration) error
}
