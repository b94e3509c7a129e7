package service

import (
	"context"
	"time"
)

// StringSet is a set of strings (all elements are unique)
type StringSet map[string]struct{}

// Push adds the string to the set if not already exists
func (ss StringSet) Push(s string) {
	ss[s] = struct{}{}
}

// Pop removes the string from the set
func (ss StringSet) Pop(s string) {
	delete(ss, s)
}

// Slice returns a slice from the set
func (ss StringSet) Slice() []string {
	sl := make([]string, 0, len(ss))
	for k := range ss {
		sl = append(sl, k)
	}
	return sl
}

// Exists returns true if the string already exists in the Set
func (ss StringSet) Exists(s string) bool {
	_, ok := ss[s]
	return ok
}

// Sleep waits for the given duration or returns earlier with the context error if the context is done
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retriable calls fn up to nbAttempts times, waiting delay between attempts
// It returns nil as soon as fn succeeds, the fn error as soon as it is not
// temporary, the last error otherwise
func Retriable(ctx context.Context, fn func() error, delay time.Duration, nbAttempts int) error {
	var err error
	for i := 0; i < nbAttempts; i++ {
		if err = fn(); err == nil || !Temporary(err) {
			return err
		}
		if i < nbAttempts-1 {
			if serr := Sleep(ctx, delay); serr != nil {
				return err
			}
		}
	}
	return err
}
