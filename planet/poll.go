package planet

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// WaitForActive blocks until the named asset of every feature is active
// Every pollInterval the whole batch is re-queried, including features whose
// asset was already seen active, until all report active at the same tick
// A zero timeout waits forever, otherwise a PollTimeoutError is returned once
// the deadline has elapsed
func (s *Session) WaitForActive(ctx context.Context, features []*Feature, assetName string, pollInterval, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = s.now().Add(timeout)
	}

	for {
		var pending []string
		for _, feature := range features {
			asset, err := s.Asset(ctx, feature, assetName)
			if err != nil {
				return fmt.Errorf("WaitForActive.%w", err)
			}
			if asset.Status != Active {
				pending = append(pending, feature.ID)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if !deadline.IsZero() && s.now().After(deadline) {
			return &PollTimeoutError{Timeout: timeout, Pending: pending}
		}
		if err := s.sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// WaitForActiveEach is an alternative to WaitForActive that polls each
// feature independently, dropping it from the cycle as soon as its asset is
// active instead of re-querying the whole batch every tick
func (s *Session) WaitForActiveEach(ctx context.Context, features []*Feature, assetName string, pollInterval, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = s.now().Add(timeout)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, feature := range features {
		feature := feature
		g.Go(func() error {
			for {
				asset, err := s.Asset(ctx, feature, assetName)
				if err != nil {
					return fmt.Errorf("WaitForActiveEach.%w", err)
				}
				if asset.Status == Active {
					return nil
				}
				if !deadline.IsZero() && s.now().After(deadline) {
					return &PollTimeoutError{Timeout: timeout, Pending: []string{feature.ID}}
				}
				if err := s.sleep(ctx, pollInterval); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
