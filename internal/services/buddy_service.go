package services

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/metrics"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

var (
	ErrSelfRequest      = errors.New("cannot send a buddy request to yourself")
	ErrAlreadyBuddied   = errors.New("one of the users already has a buddy")
	ErrDuplicateRequest = errors.New("a buddy request between these users is already pending")
	ErrNoPendingRequest = errors.New("no pending buddy request from this user")
	ErrProfileBanned    = errors.New("profile is banned")
	ErrProfileNotFound  = storage.ErrProfileNotFound
)

// PairState is the relationship between two users as derived from their profiles.
type PairState int

const (
	PairNone PairState = iota
	PairARequestedB
	PairBRequestedA
	PairBuddies
)

func (s PairState) String() string {
	switch s {
	case PairARequestedB:
		return "a_requested_b"
	case PairBRequestedA:
		return "b_requested_a"
	case PairBuddies:
		return "buddies"
	default:
		return "none"
	}
}

// DerivePairState reads the pair state off two profiles. Either side of a
// pending request is enough to count it, so a half-written request still shows.
func DerivePairState(a, b *models.UserProfile) PairState {
	switch {
	case a.BuddyOf(b.ID) && b.BuddyOf(a.ID):
		return PairBuddies
	case slices.Contains(a.SentIDs(), b.ID) || slices.Contains(b.RequestIDs(), a.ID):
		return PairARequestedB
	case slices.Contains(b.SentIDs(), a.ID) || slices.Contains(a.RequestIDs(), b.ID):
		return PairBRequestedA
	default:
		return PairNone
	}
}

// PendingRequests is the cleaned request inbox and outbox of a user.
type PendingRequests struct {
	Received []*models.UserBasicInfo `json:"received"`
	Sent     []*models.UserBasicInfo `json:"sent"`
}

// BuddyService runs the buddy request workflow across two profile records.
type BuddyService interface {
	SendRequest(ctx context.Context, actorID, targetID string) error
	AcceptRequest(ctx context.Context, actorID, requesterID string) error
	RejectRequest(ctx context.Context, actorID, requesterID string) error
	CancelRequest(ctx context.Context, actorID, targetID string) error
	LeaveBuddy(ctx context.Context, actorID string) error
	PendingRequests(ctx context.Context, actorID string) (*PendingRequests, error)
	// CurrentBuddy returns nil when the user has no mutual buddy.
	CurrentBuddy(ctx context.Context, actorID string) (*models.UserBasicInfo, error)
}

type buddyService struct {
	store     storage.ProfileStore
	repair    RepairService
	pictures  *pictureResolver
	publisher EventPublisher
	writer    pairWriter
	logger    *zap.Logger
}

// NewBuddyService creates a BuddyService.
func NewBuddyService(
	store storage.ProfileStore,
	repair RepairService,
	blobs apptypes.BlobStore,
	publisher EventPublisher,
	logger *zap.Logger,
) BuddyService {
	return &buddyService{
		store:     store,
		repair:    repair,
		pictures:  newPictureResolver(blobs, logger),
		publisher: publisher,
		writer:    pairWriter{store: store, logger: logger},
		logger:    logger.Named("buddy"),
	}
}

// loadPair fetches both profiles concurrently.
func (s *buddyService) loadPair(ctx context.Context, firstID, secondID string) (*models.UserProfile, *models.UserProfile, error) {
	var first, second *models.UserProfile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.store.Get(gctx, firstID)
		first = p
		return err
	})
	g.Go(func() error {
		p, err := s.store.Get(gctx, secondID)
		second = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

func (s *buddyService) record(op string, err error) error {
	metrics.BuddyOperations.WithLabelValues(op, metrics.Result(err)).Inc()
	return err
}

// SendRequest records actor -> target in actor.sent and target.request.
func (s *buddyService) SendRequest(ctx context.Context, actorID, targetID string) error {
	const op = "send_request"
	if actorID == targetID {
		return s.record(op, ErrSelfRequest)
	}
	actor, target, err := s.loadPair(ctx, actorID, targetID)
	if err != nil {
		return s.record(op, fmt.Errorf("%s: %w", op, err))
	}
	if actor.Banned || target.Banned {
		return s.record(op, ErrProfileBanned)
	}
	if actor.HasBuddy() || target.HasBuddy() {
		return s.record(op, ErrAlreadyBuddied)
	}
	if state := DerivePairState(actor, target); state != PairNone {
		return s.record(op, ErrDuplicateRequest)
	}

	err = s.writer.write(ctx, op,
		profileUpdate{id: actorID, patch: models.ProfilePatch{Sent: models.With(actor.SentIDs(), targetID)}},
		profileUpdate{id: targetID, patch: models.ProfilePatch{Request: models.With(target.RequestIDs(), actorID)}},
	)
	if err != nil {
		return s.record(op, err)
	}
	notify(ctx, s.logger, s.publisher, apptypes.EventBuddyRequestSent, targetID, actorID, actor.Basic())
	return s.record(op, nil)
}

// AcceptRequest pairs actor with requester and clears both users' pending lists.
// Accepting again once paired is a no-op; a half-applied accept is completed.
func (s *buddyService) AcceptRequest(ctx context.Context, actorID, requesterID string) error {
	const op = "accept_request"
	if actorID == requesterID {
		return s.record(op, ErrSelfRequest)
	}
	actor, requester, err := s.loadPair(ctx, actorID, requesterID)
	if err != nil {
		return s.record(op, fmt.Errorf("%s: %w", op, err))
	}
	if actor.BuddyOf(requesterID) && requester.BuddyOf(actorID) {
		return s.record(op, nil)
	}
	if (actor.HasBuddy() && !actor.BuddyOf(requesterID)) || (requester.HasBuddy() && !requester.BuddyOf(actorID)) {
		return s.record(op, ErrAlreadyBuddied)
	}
	if requester.Banned {
		return s.record(op, ErrProfileBanned)
	}
	halfPaired := actor.BuddyOf(requesterID) || requester.BuddyOf(actorID)
	if !halfPaired && DerivePairState(actor, requester) != PairBRequestedA {
		return s.record(op, ErrNoPendingRequest)
	}

	err = s.writer.write(ctx, op,
		profileUpdate{id: actorID, patch: models.ProfilePatch{BuddyID: models.Ptr(requesterID), Sent: []string{}, Request: []string{}}},
		profileUpdate{id: requesterID, patch: models.ProfilePatch{BuddyID: models.Ptr(actorID), Sent: []string{}, Request: []string{}}},
	)
	if err != nil {
		return s.record(op, err)
	}
	notify(ctx, s.logger, s.publisher, apptypes.EventBuddyRequestAccepted, requesterID, actorID, actor.Basic())
	return s.record(op, nil)
}

// RejectRequest drops the single pending request requester -> actor.
func (s *buddyService) RejectRequest(ctx context.Context, actorID, requesterID string) error {
	const op = "reject_request"
	changed, err := s.removePending(ctx, op, requesterID, actorID)
	if err != nil {
		return s.record(op, err)
	}
	if changed {
		notify(ctx, s.logger, s.publisher, apptypes.EventBuddyRequestRejected, requesterID, actorID, nil)
	}
	return s.record(op, nil)
}

// CancelRequest withdraws the single pending request actor -> target.
func (s *buddyService) CancelRequest(ctx context.Context, actorID, targetID string) error {
	const op = "cancel_request"
	changed, err := s.removePending(ctx, op, actorID, targetID)
	if err != nil {
		return s.record(op, err)
	}
	if changed {
		notify(ctx, s.logger, s.publisher, apptypes.EventBuddyRequestCancelled, targetID, actorID, nil)
	}
	return s.record(op, nil)
}

// removePending removes fromID from to.request and toID from from.sent.
// Entries already gone are skipped; a missing profile only skips its own side.
func (s *buddyService) removePending(ctx context.Context, op, fromID, toID string) (bool, error) {
	from, errFrom := s.store.Get(ctx, fromID)
	to, errTo := s.store.Get(ctx, toID)
	for _, err := range []error{errFrom, errTo} {
		if err != nil && !errors.Is(err, ErrProfileNotFound) {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if from == nil && to == nil {
		return false, fmt.Errorf("%s: %w", op, ErrProfileNotFound)
	}

	var fromUpdate, toUpdate profileUpdate
	if from != nil && slices.Contains(from.SentIDs(), toID) {
		fromUpdate = profileUpdate{id: fromID, patch: models.ProfilePatch{Sent: models.Without(from.SentIDs(), toID)}}
	}
	if to != nil && slices.Contains(to.RequestIDs(), fromID) {
		toUpdate = profileUpdate{id: toID, patch: models.ProfilePatch{Request: models.Without(to.RequestIDs(), fromID)}}
	}
	if fromUpdate.id == "" && toUpdate.id == "" {
		return false, nil
	}
	if err := s.writer.write(ctx, op, fromUpdate, toUpdate); err != nil {
		return false, err
	}
	return true, nil
}

// LeaveBuddy clears buddy_id on the actor and, if it still points back, on the buddy.
func (s *buddyService) LeaveBuddy(ctx context.Context, actorID string) error {
	const op = "leave_buddy"
	actor, err := s.store.Get(ctx, actorID)
	if err != nil {
		return s.record(op, fmt.Errorf("%s: %w", op, err))
	}
	if !actor.HasBuddy() {
		return s.record(op, nil)
	}
	buddyID := *actor.BuddyID

	buddyUpdate := profileUpdate{}
	buddy, err := s.store.Get(ctx, buddyID)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		s.logger.Info("former buddy profile missing, clearing actor only",
			zap.String("actor", actorID), zap.String("buddy", buddyID))
	case err != nil:
		return s.record(op, fmt.Errorf("%s: %w", op, err))
	case buddy.BuddyOf(actorID):
		buddyUpdate = profileUpdate{id: buddyID, patch: models.ProfilePatch{ClearBuddy: true}}
	}

	err = s.writer.write(ctx, op,
		profileUpdate{id: actorID, patch: models.ProfilePatch{ClearBuddy: true}},
		buddyUpdate,
	)
	if err != nil {
		return s.record(op, err)
	}
	notify(ctx, s.logger, s.publisher, apptypes.EventBuddyLeft, buddyID, actorID, nil)
	return s.record(op, nil)
}

// PendingRequests repairs the actor's lists and resolves them to public cards.
func (s *buddyService) PendingRequests(ctx context.Context, actorID string) (*PendingRequests, error) {
	result, err := s.repair.RepairUserReferences(ctx, actorID)
	if err != nil {
		return nil, err
	}
	pending := &PendingRequests{
		Received: make([]*models.UserBasicInfo, 0, len(result.Request)),
		Sent:     make([]*models.UserBasicInfo, 0, len(result.Sent)),
	}
	for _, id := range result.Request {
		if p, ok := result.Profiles[id]; ok {
			pending.Received = append(pending.Received, s.pictures.card(ctx, p))
		}
	}
	for _, id := range result.Sent {
		if p, ok := result.Profiles[id]; ok {
			pending.Sent = append(pending.Sent, s.pictures.card(ctx, p))
		}
	}
	return pending, nil
}

func (s *buddyService) CurrentBuddy(ctx context.Context, actorID string) (*models.UserBasicInfo, error) {
	actor, err := s.store.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.HasBuddy() {
		return nil, nil
	}
	buddy, err := s.store.Get(ctx, *actor.BuddyID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !buddy.BuddyOf(actorID) {
		return nil, nil
	}
	return s.pictures.card(ctx, buddy), nil
}
