package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"studybuddy/internal/metrics"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

// ErrPartialWrite matches a *PartialWriteError with errors.Is.
var ErrPartialWrite = errors.New("only one of the two profiles was updated")

// PartialWriteError reports a two-profile update where exactly one write landed.
// Nothing is rolled back; the repair pass reconciles later.
type PartialWriteError struct {
	Op      string
	Written string // profile whose update succeeded
	Failed  string // profile whose update failed
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s: updated %s but not %s: %v", e.Op, e.Written, e.Failed, e.Err)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrPartialWrite, e.Err}
}

// profileUpdate is one side of a paired write. An empty patch is skipped.
type profileUpdate struct {
	id    string
	patch models.ProfilePatch
}

// pairWriter dispatches the two sides of a relationship change concurrently.
type pairWriter struct {
	store  storage.ProfileStore
	logger *zap.Logger
}

// write applies both updates in parallel and waits for both. The writes use a
// context detached from the caller's cancellation so a disconnect cannot stop
// one half after the other has been sent.
func (w pairWriter) write(ctx context.Context, op string, first, second profileUpdate) error {
	ctx = context.WithoutCancel(ctx)
	updates := []profileUpdate{first, second}
	errs := make([]error, len(updates))
	attempted := 0

	var g errgroup.Group
	for i, u := range updates {
		if u.id == "" || u.patch.IsEmpty() {
			continue
		}
		attempted++
		g.Go(func() error {
			_, errs[i] = w.store.Update(ctx, u.id, u.patch)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case errs[0] == nil && errs[1] == nil:
		return nil
	case attempted < 2 || (errs[0] != nil && errs[1] != nil):
		return fmt.Errorf("%s: %w", op, errors.Join(errs[0], errs[1]))
	}

	written, failed, cause := first.id, second.id, errs[1]
	if errs[0] != nil {
		written, failed, cause = second.id, first.id, errs[0]
	}
	pwErr := &PartialWriteError{Op: op, Written: written, Failed: failed, Err: cause}

	metrics.PartialWrites.WithLabelValues(op).Inc()
	w.logger.Error("partial relationship write",
		zap.String("op", op),
		zap.String("written", written),
		zap.String("failed", failed),
		zap.Error(cause))
	sentry.CaptureException(pwErr)
	return pwErr
}
