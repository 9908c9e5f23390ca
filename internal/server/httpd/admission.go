package httpd

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// admission gates the accept loop. A zero value admits everything.
type admission struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// newAdmission caps concurrent connections at maxConns and paces accepts
// at perSecond with the given burst. Zero disables either limit.
func newAdmission(maxConns int, perSecond float64, burst int) *admission {
	a := &admission{}
	if maxConns > 0 {
		a.sem = semaphore.NewWeighted(int64(maxConns))
	}
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return a
}

// acquire blocks until another connection may be accepted.
func (a *admission) acquire(ctx context.Context) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if a.sem != nil {
		return a.sem.Acquire(ctx, 1)
	}
	return nil
}

// release returns the slot taken by acquire.
func (a *admission) release() {
	if a.sem != nil {
		a.sem.Release(1)
	}
}
