package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"studybuddy/internal/config"
	"studybuddy/internal/metrics"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

// Prune reasons, also used as the metrics label.
const (
	pruneMissing   = "missing"
	pruneBuddied   = "buddied"
	pruneBanned    = "banned"
	pruneSelf      = "self"
	pruneDuplicate = "duplicate"
	pruneOwnBuddy  = "own_buddy"
	pruneOneSided  = "one_sided"
)

// RepairResult holds a user's pending lists after repair, plus the profiles
// that survived, keyed by ID.
type RepairResult struct {
	Sent     []string                       `json:"sent"`
	Request  []string                       `json:"request"`
	Profiles map[string]*models.UserProfile `json:"-"`
	Changed  bool                           `json:"changed"`
}

// PurgeResult summarises a full reference purge.
type PurgeResult struct {
	Scanned       int    `json:"scanned"`
	Updated       int    `json:"updated"`
	Failed        int    `json:"failed"`
	FormerBuddyID string `json:"formerBuddyId,omitempty"`
}

// RepairService removes stale references that non-transactional pair writes leave behind.
type RepairService interface {
	RepairUserReferences(ctx context.Context, userID string) (*RepairResult, error)
	// PurgeUserFromAllReferences scans every profile and drops userID (and alsoPurge)
	// from sent and request lists. Per-profile failures are returned together.
	PurgeUserFromAllReferences(ctx context.Context, userID string, alsoPurge ...string) (*PurgeResult, error)
	ClearBuddyAndCleanup(ctx context.Context, userID string) (*PurgeResult, error)
}

type repairService struct {
	store       storage.ProfileStore
	writer      pairWriter
	pageSize    int
	concurrency int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewRepairService creates a RepairService. Zero config values fall back to defaults.
func NewRepairService(store storage.ProfileStore, cfg config.RepairConfig, logger *zap.Logger) RepairService {
	if cfg.ScanPageSize <= 0 {
		cfg.ScanPageSize = 100
	}
	if cfg.UpdateConcurrency <= 0 {
		cfg.UpdateConcurrency = 8
	}
	limit := rate.Inf
	if cfg.UpdatesPerSecond > 0 {
		limit = rate.Limit(cfg.UpdatesPerSecond)
	}
	return &repairService{
		store:       store,
		writer:      pairWriter{store: store, logger: logger},
		pageSize:    cfg.ScanPageSize,
		concurrency: cfg.UpdateConcurrency,
		limiter:     rate.NewLimiter(limit, cfg.UpdateConcurrency),
		logger:      logger.Named("repair"),
	}
}

func (s *repairService) RepairUserReferences(ctx context.Context, userID string) (*RepairResult, error) {
	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("repair %s: %w", userID, err)
	}
	origSent, origRequest := user.SentIDs(), user.RequestIDs()
	result := &RepairResult{Profiles: make(map[string]*models.UserProfile)}

	if user.HasBuddy() {
		result.Sent, result.Request = []string{}, []string{}
		metrics.RepairPrunedReferences.WithLabelValues(pruneOwnBuddy).Add(float64(len(origSent) + len(origRequest)))
	} else {
		lookup, err := s.fetchReferenced(ctx, userID, append(slices.Clone(origSent), origRequest...))
		if err != nil {
			return nil, fmt.Errorf("repair %s: %w", userID, err)
		}
		result.Sent = s.prune(userID, origSent, lookup, result.Profiles, (*models.UserProfile).RequestIDs)
		result.Request = s.prune(userID, origRequest, lookup, result.Profiles, (*models.UserProfile).SentIDs)
	}

	result.Changed = !slices.Equal(origSent, result.Sent) || !slices.Equal(origRequest, result.Request)
	if !result.Changed {
		return result, nil
	}

	patch := models.ProfilePatch{Sent: result.Sent, Request: result.Request}
	if _, err := s.store.Update(ctx, userID, patch); err != nil {
		return nil, fmt.Errorf("repair %s: %w", userID, err)
	}
	s.logger.Info("pruned stale pending references",
		zap.String("user", userID),
		zap.Int("sent_before", len(origSent)), zap.Int("sent_after", len(result.Sent)),
		zap.Int("request_before", len(origRequest)), zap.Int("request_after", len(result.Request)))
	return result, nil
}

// fetchReferenced loads every distinct referenced profile concurrently.
// Missing profiles map to nil.
func (s *repairService) fetchReferenced(ctx context.Context, userID string, ids []string) (map[string]*models.UserProfile, error) {
	distinct := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != userID && id != "" && !slices.Contains(distinct, id) {
			distinct = append(distinct, id)
		}
	}
	profiles := make([]*models.UserProfile, len(distinct))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range distinct {
		g.Go(func() error {
			p, err := s.store.Get(gctx, id)
			if errors.Is(err, storage.ErrProfileNotFound) {
				return nil
			}
			profiles[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lookup := make(map[string]*models.UserProfile, len(distinct))
	for i, id := range distinct {
		lookup[id] = profiles[i]
	}
	return lookup, nil
}

// prune keeps the entries of ids that still describe a live request. backRefs
// returns the list on the other profile that must name userID for the entry to hold.
func (s *repairService) prune(
	userID string,
	ids []string,
	lookup map[string]*models.UserProfile,
	keep map[string]*models.UserProfile,
	backRefs func(*models.UserProfile) []string,
) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		reason := ""
		p := lookup[id]
		switch {
		case id == userID:
			reason = pruneSelf
		case slices.Contains(out, id):
			reason = pruneDuplicate
		case p == nil:
			reason = pruneMissing
		case p.HasBuddy():
			reason = pruneBuddied
		case p.Banned:
			reason = pruneBanned
		case !slices.Contains(backRefs(p), userID):
			reason = pruneOneSided
		}
		if reason != "" {
			metrics.RepairPrunedReferences.WithLabelValues(reason).Inc()
			continue
		}
		out = append(out, id)
		keep[id] = p
	}
	return out
}

func (s *repairService) PurgeUserFromAllReferences(ctx context.Context, userID string, alsoPurge ...string) (*PurgeResult, error) {
	purge := []string{userID}
	for _, id := range alsoPurge {
		if id != "" && !slices.Contains(purge, id) {
			purge = append(purge, id)
		}
	}

	result := &PurgeResult{}
	var updated, failed atomic.Int64
	var errs error
	pageToken := ""
	for {
		page, err := s.store.List(ctx, storage.ProfileQuery{Limit: s.pageSize, PageToken: pageToken})
		if err != nil {
			return result, multierr.Append(errs, fmt.Errorf("list profiles: %w", err))
		}
		result.Scanned += len(page.Items)
		metrics.PurgeProfilesScanned.Add(float64(len(page.Items)))

		pageErrs := make([]error, len(page.Items))
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for i, p := range page.Items {
			if slices.Contains(purge, p.ID) {
				continue
			}
			patch, changed := purgePatch(p, purge)
			if !changed {
				continue
			}
			g.Go(func() error {
				if err := s.limiter.Wait(ctx); err != nil {
					pageErrs[i] = err
					return nil
				}
				if _, err := s.store.Update(ctx, p.ID, patch); err != nil {
					pageErrs[i] = fmt.Errorf("purge references from %s: %w", p.ID, err)
					failed.Add(1)
					return nil
				}
				updated.Add(1)
				metrics.PurgeProfilesUpdated.Inc()
				return nil
			})
		}
		_ = g.Wait()
		errs = multierr.Combine(append([]error{errs}, pageErrs...)...)

		if err := ctx.Err(); err != nil {
			break
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	result.Updated = int(updated.Load())
	result.Failed = int(failed.Load())
	s.logger.Info("reference purge finished",
		zap.Strings("purged", purge),
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Error(errs))
	return result, errs
}

// purgePatch drops every purged id from p's lists. changed is false when p holds none.
func purgePatch(p *models.UserProfile, purge []string) (models.ProfilePatch, bool) {
	var patch models.ProfilePatch
	sent, request := p.SentIDs(), p.RequestIDs()
	if slices.ContainsFunc(sent, func(id string) bool { return slices.Contains(purge, id) }) {
		patch.Sent = models.Without(sent, purge...)
	}
	if slices.ContainsFunc(request, func(id string) bool { return slices.Contains(purge, id) }) {
		patch.Request = models.Without(request, purge...)
	}
	return patch, !patch.IsEmpty()
}

// ClearBuddyAndCleanup empties the user's buddy and lists, does the same for a
// mutual former buddy, then purges both from every other profile.
func (s *repairService) ClearBuddyAndCleanup(ctx context.Context, userID string) (*PurgeResult, error) {
	const op = "clear_buddy_and_cleanup"
	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reset := models.ProfilePatch{ClearBuddy: true, Sent: []string{}, Request: []string{}}
	var buddyUpdate profileUpdate
	formerBuddy := ""
	if user.HasBuddy() {
		formerBuddy = *user.BuddyID
		buddy, err := s.store.Get(ctx, formerBuddy)
		switch {
		case errors.Is(err, storage.ErrProfileNotFound):
		case err != nil:
			return nil, fmt.Errorf("%s: %w", op, err)
		case buddy.BuddyOf(userID):
			buddyUpdate = profileUpdate{id: formerBuddy, patch: reset}
		}
	}

	if err := s.writer.write(ctx, op, profileUpdate{id: userID, patch: reset}, buddyUpdate); err != nil {
		return nil, err
	}

	result, err := s.PurgeUserFromAllReferences(ctx, userID, formerBuddy)
	if result != nil {
		result.FormerBuddyID = formerBuddy
	}
	return result, err
}
