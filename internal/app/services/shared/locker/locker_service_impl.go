package locker

import (
	"context"
	"errors"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errLockNotOwned = errors.New("lock not owned by this client")

// ErrLockLost is returned by WithLock when the lease could not be renewed
// while fn was running. Another owner may have taken the key since.
var ErrLockLost = errors.New("lock lease lost while held")

type lockService struct {
	redisRepo contracts.RedisRepository
	Log       *zap.Logger
}

func NewLockService(repo contracts.RedisRepository, logger *zap.Logger) contracts.LockerService {
	return &lockService{
		redisRepo: repo,
		Log:       logger,
	}
}

func (s *lockService) TryLock(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)
	s.Log.Debug("lockService.TryLock called",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingRedisKey, key),
		zap.Duration(constvars.LoggingLockExpirationTimeKey, expiration),
	)

	lockValue := uuid.NewString()
	acquired, err := s.redisRepo.TrySetNX(ctx, key, lockValue, expiration)
	if err != nil {
		s.Log.Error("lockService.TryLock error calling redisRepo.TrySetNX",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		return false, "", err
	}

	if !acquired {
		s.Log.Debug("lockService.TryLock not acquired",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingRedisKey, key),
		)
		return false, "", nil
	}

	s.Log.Debug("lockService.TryLock acquired lock",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingRedisKey, key),
		zap.String(constvars.LoggingLockValueKey, lockValue),
	)
	return true, lockValue, nil
}

func (s *lockService) Unlock(ctx context.Context, key, lockValue string) error {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	deleted, err := s.redisRepo.CompareAndDelete(ctx, key, lockValue)
	if err != nil {
		s.Log.Error("lockService.Unlock error calling redisRepo.CompareAndDelete",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingRedisKey, key),
			zap.Error(err),
		)
		return err
	}

	if !deleted {
		// Expired or taken over by another owner; neither is ours to delete.
		s.Log.Warn("lockService.Unlock lock no longer owned",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingRedisKey, key),
			zap.String(constvars.LoggingLockExpectedValueKey, lockValue),
		)
		return nil
	}

	s.Log.Debug("lockService.Unlock succeeded",
		zap.String(constvars.LoggingRequestIDKey, requestID),
		zap.String(constvars.LoggingRedisKey, key),
	)
	return nil
}

func (s *lockService) Refresh(ctx context.Context, key, lockValue string, expiration time.Duration) error {
	requestID, _ := ctx.Value(constvars.CONTEXT_REQUEST_ID_KEY).(string)

	refreshed, err := s.redisRepo.CompareAndExpire(ctx, key, lockValue, expiration)
	if err != nil {
		s.Log.Error("lockService.Refresh error calling redisRepo.CompareAndExpire",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.Error(err),
		)
		return err
	}
	if !refreshed {
		err := exceptions.ErrRedisUnlock(errLockNotOwned)
		s.Log.Error("lockService.Refresh lock ownership mismatch",
			zap.String(constvars.LoggingRequestIDKey, requestID),
			zap.String(constvars.LoggingRedisKey, key),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// WithLock runs fn while holding key, polling up to attempts times for the
// lock. ErrLockNotAcquired is returned when every attempt found it taken.
// The lease is renewed every ttl/3 while fn runs; if a renewal fails, fn's
// context is cancelled and ErrLockLost is returned.
func WithLock(ctx context.Context, locker contracts.LockerService, key string, ttl time.Duration, attempts int, delay time.Duration, fn func(ctx context.Context) error) error {
	var lockValue string
	for attempt := 1; ; attempt++ {
		acquired, value, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if acquired {
			lockValue = value
			break
		}
		if attempt >= attempts {
			return exceptions.ErrLockNotAcquired(nil, key)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	defer locker.Unlock(context.WithoutCancel(ctx), key, lockValue)

	heldCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		keepAlive(heldCtx, locker, key, lockValue, ttl, cancel)
	}()

	err := fn(heldCtx)
	lost := errors.Is(context.Cause(heldCtx), ErrLockLost)
	cancel(nil)
	<-renewed

	if lost {
		return errors.Join(ErrLockLost, err)
	}
	return err
}

func keepAlive(ctx context.Context, locker contracts.LockerService, key, lockValue string, ttl time.Duration, cancel context.CancelCauseFunc) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := locker.Refresh(ctx, key, lockValue, ttl); err != nil {
				cancel(errors.Join(ErrLockLost, err))
				return
			}
		}
	}
}
