package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/models"
)

type buddyFixture struct {
	store     *faultyStore
	publisher *recordingPublisher
	repair    RepairService
	svc       BuddyService
}

func newBuddyFixture(t *testing.T, profiles ...*models.UserProfile) *buddyFixture {
	t.Helper()
	store := newTestStore(t)
	seed(t, store, profiles...)
	publisher := &recordingPublisher{}
	repair := NewRepairService(store, testRepairConfig(), testLogger())
	return &buddyFixture{
		store:     store,
		publisher: publisher,
		repair:    repair,
		svc:       NewBuddyService(store, repair, newMemoryBlobs(), publisher, testLogger()),
	}
}

func buddied(id, buddy string) *models.UserProfile {
	p := profile(id)
	p.BuddyID = models.Ptr(buddy)
	return p
}

func withLists(id string, sent, request []string) *models.UserProfile {
	p := profile(id)
	p.Sent = datatypes.NewJSONSlice(sent)
	p.Request = datatypes.NewJSONSlice(request)
	return p
}

func TestDerivePairState(t *testing.T) {
	tests := []struct {
		name string
		a, b *models.UserProfile
		want PairState
	}{
		{"none", profile("a"), profile("b"), PairNone},
		{"a requested b", withLists("a", []string{"b"}, nil), withLists("b", nil, []string{"a"}), PairARequestedB},
		{"half written request still counts", profile("a"), withLists("b", nil, []string{"a"}), PairARequestedB},
		{"b requested a", withLists("a", nil, []string{"b"}), profile("b"), PairBRequestedA},
		{"buddies", buddied("a", "b"), buddied("b", "a"), PairBuddies},
		{"one sided buddy is not a pair", buddied("a", "b"), profile("b"), PairNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePairState(tt.a, tt.b))
		})
	}
}

func TestBuddyService_SendRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("records both sides", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), profile("bob"))
		require.NoError(t, f.svc.SendRequest(ctx, "amy", "bob"))

		assert.Equal(t, []string{"bob"}, mustGet(t, f.store, "amy").SentIDs())
		assert.Equal(t, []string{"amy"}, mustGet(t, f.store, "bob").RequestIDs())
		assert.Equal(t, []apptypes.EventType{apptypes.EventBuddyRequestSent}, f.publisher.types())
		assert.Equal(t, "bob", f.publisher.events[0].RecipientID)
	})

	t.Run("keeps other pending entries", func(t *testing.T) {
		f := newBuddyFixture(t, withLists("amy", []string{"carl"}, nil), profile("bob"), profile("carl"))
		require.NoError(t, f.svc.SendRequest(ctx, "amy", "bob"))
		assert.Equal(t, []string{"carl", "bob"}, mustGet(t, f.store, "amy").SentIDs())
	})

	t.Run("rejections", func(t *testing.T) {
		banned := profile("ban")
		banned.Banned = true
		f := newBuddyFixture(t,
			withLists("amy", []string{"bob"}, []string{"dan"}),
			withLists("bob", nil, []string{"amy"}),
			buddied("carl", "eve"), buddied("eve", "carl"),
			withLists("dan", []string{"amy"}, nil),
			banned,
		)

		cases := []struct {
			name   string
			target string
			want   error
		}{
			{"self", "amy", ErrSelfRequest},
			{"duplicate", "bob", ErrDuplicateRequest},
			{"reverse pending", "dan", ErrDuplicateRequest},
			{"target buddied", "carl", ErrAlreadyBuddied},
			{"missing target", "ghost", ErrProfileNotFound},
			{"banned target", "ban", ErrProfileBanned},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				err := f.svc.SendRequest(ctx, "amy", c.target)
				assert.ErrorIs(t, err, c.want)
			})
		}
		assert.Empty(t, f.store.updatedIDs(), "rejected sends must not write")
	})

	t.Run("actor buddied", func(t *testing.T) {
		f := newBuddyFixture(t, buddied("amy", "carl"), buddied("carl", "amy"), profile("bob"))
		assert.ErrorIs(t, f.svc.SendRequest(ctx, "amy", "bob"), ErrAlreadyBuddied)
	})

	t.Run("partial write is reported", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), profile("bob"))
		f.store.failUpdatesFor("bob")

		err := f.svc.SendRequest(ctx, "amy", "bob")
		require.ErrorIs(t, err, ErrPartialWrite)
		assert.ErrorIs(t, err, errInjected)

		var pw *PartialWriteError
		require.True(t, errors.As(err, &pw))
		assert.Equal(t, "send_request", pw.Op)
		assert.Equal(t, "amy", pw.Written)
		assert.Equal(t, "bob", pw.Failed)

		assert.Equal(t, []string{"bob"}, mustGet(t, f.store, "amy").SentIDs(), "no rollback")
		assert.Empty(t, mustGet(t, f.store, "bob").RequestIDs())
		assert.Empty(t, f.publisher.types())
	})

	t.Run("both writes failing is not partial", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), profile("bob"))
		f.store.failUpdatesFor("amy", "bob")

		err := f.svc.SendRequest(ctx, "amy", "bob")
		require.ErrorIs(t, err, errInjected)
		assert.NotErrorIs(t, err, ErrPartialWrite)
	})
}

func TestBuddyService_AcceptRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("pairs and clears every pending entry", func(t *testing.T) {
		f := newBuddyFixture(t,
			withLists("amy", []string{"carl"}, []string{"bob", "dan"}),
			withLists("bob", []string{"amy", "eve"}, nil),
			profile("carl"), profile("dan"), profile("eve"),
		)
		require.NoError(t, f.svc.AcceptRequest(ctx, "amy", "bob"))

		amy, bob := mustGet(t, f.store, "amy"), mustGet(t, f.store, "bob")
		assert.True(t, amy.BuddyOf("bob"))
		assert.True(t, bob.BuddyOf("amy"))
		for _, p := range []*models.UserProfile{amy, bob} {
			assert.Empty(t, p.SentIDs())
			assert.Empty(t, p.RequestIDs())
		}
		assert.Equal(t, PairBuddies, DerivePairState(amy, bob))
		assert.Equal(t, []apptypes.EventType{apptypes.EventBuddyRequestAccepted}, f.publisher.types())
	})

	t.Run("accepts a half written request", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), withLists("bob", []string{"amy"}, nil))
		require.NoError(t, f.svc.AcceptRequest(ctx, "amy", "bob"))
		assert.True(t, mustGet(t, f.store, "amy").BuddyOf("bob"))
	})

	t.Run("already buddies is a no-op", func(t *testing.T) {
		f := newBuddyFixture(t, buddied("amy", "bob"), buddied("bob", "amy"))
		require.NoError(t, f.svc.AcceptRequest(ctx, "amy", "bob"))
		assert.Empty(t, f.store.updatedIDs())
	})

	t.Run("completes a one sided pairing", func(t *testing.T) {
		f := newBuddyFixture(t, buddied("amy", "bob"), profile("bob"))
		require.NoError(t, f.svc.AcceptRequest(ctx, "amy", "bob"))
		assert.True(t, mustGet(t, f.store, "bob").BuddyOf("amy"))
	})

	t.Run("no pending request", func(t *testing.T) {
		f := newBuddyFixture(t, withLists("amy", []string{"bob"}, nil), withLists("bob", nil, []string{"amy"}))
		assert.ErrorIs(t, f.svc.AcceptRequest(ctx, "amy", "bob"), ErrNoPendingRequest)
	})

	t.Run("requester already has another buddy", func(t *testing.T) {
		f := newBuddyFixture(t, withLists("amy", nil, []string{"bob"}), buddied("bob", "carl"), buddied("carl", "bob"))
		assert.ErrorIs(t, f.svc.AcceptRequest(ctx, "amy", "bob"), ErrAlreadyBuddied)
	})

	t.Run("partial accept can be completed by retrying", func(t *testing.T) {
		f := newBuddyFixture(t, withLists("amy", nil, []string{"bob"}), withLists("bob", []string{"amy"}, nil))
		f.store.failUpdatesFor("bob")
		require.ErrorIs(t, f.svc.AcceptRequest(ctx, "amy", "bob"), ErrPartialWrite)

		f.store.failUpdate = map[string]bool{}
		require.NoError(t, f.svc.AcceptRequest(ctx, "amy", "bob"))
		assert.Equal(t, PairBuddies, DerivePairState(mustGet(t, f.store, "amy"), mustGet(t, f.store, "bob")))
	})
}

func TestBuddyService_RejectAndCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("reject removes only that pair", func(t *testing.T) {
		f := newBuddyFixture(t,
			withLists("amy", nil, []string{"bob", "carl"}),
			withLists("bob", []string{"amy", "dan"}, nil),
			profile("carl"), profile("dan"),
		)
		require.NoError(t, f.svc.RejectRequest(ctx, "amy", "bob"))
		assert.Equal(t, []string{"carl"}, mustGet(t, f.store, "amy").RequestIDs())
		assert.Equal(t, []string{"dan"}, mustGet(t, f.store, "bob").SentIDs())
		assert.Equal(t, []apptypes.EventType{apptypes.EventBuddyRequestRejected}, f.publisher.types())

		require.NoError(t, f.svc.RejectRequest(ctx, "amy", "bob"), "second reject is a no-op")
		assert.Len(t, f.publisher.types(), 1)
	})

	t.Run("reject with requester deleted prunes actor side", func(t *testing.T) {
		f := newBuddyFixture(t, withLists("amy", nil, []string{"ghost"}))
		require.NoError(t, f.svc.RejectRequest(ctx, "amy", "ghost"))
		assert.Empty(t, mustGet(t, f.store, "amy").RequestIDs())
	})

	t.Run("cancel", func(t *testing.T) {
		f := newBuddyFixture(t, withLists("amy", []string{"bob"}, nil), withLists("bob", nil, []string{"amy"}))
		require.NoError(t, f.svc.CancelRequest(ctx, "amy", "bob"))
		assert.Empty(t, mustGet(t, f.store, "amy").SentIDs())
		assert.Empty(t, mustGet(t, f.store, "bob").RequestIDs())
		assert.Equal(t, PairNone, DerivePairState(mustGet(t, f.store, "amy"), mustGet(t, f.store, "bob")))
	})

	t.Run("cancel with nothing pending", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), profile("bob"))
		require.NoError(t, f.svc.CancelRequest(ctx, "amy", "bob"))
		assert.Empty(t, f.store.updatedIDs())
	})
}

func TestBuddyService_LeaveBuddy(t *testing.T) {
	ctx := context.Background()

	t.Run("clears both", func(t *testing.T) {
		f := newBuddyFixture(t, buddied("amy", "bob"), buddied("bob", "amy"))
		require.NoError(t, f.svc.LeaveBuddy(ctx, "amy"))
		assert.False(t, mustGet(t, f.store, "amy").HasBuddy())
		assert.False(t, mustGet(t, f.store, "bob").HasBuddy())
		assert.Equal(t, []apptypes.EventType{apptypes.EventBuddyLeft}, f.publisher.types())
	})

	t.Run("no buddy is a no-op", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"))
		require.NoError(t, f.svc.LeaveBuddy(ctx, "amy"))
		assert.Empty(t, f.store.updatedIDs())
	})

	t.Run("former buddy deleted", func(t *testing.T) {
		f := newBuddyFixture(t, buddied("amy", "ghost"))
		require.NoError(t, f.svc.LeaveBuddy(ctx, "amy"))
		assert.False(t, mustGet(t, f.store, "amy").HasBuddy())
	})

	t.Run("former buddy points elsewhere", func(t *testing.T) {
		f := newBuddyFixture(t, buddied("amy", "bob"), buddied("bob", "carl"), buddied("carl", "bob"))
		require.NoError(t, f.svc.LeaveBuddy(ctx, "amy"))
		assert.False(t, mustGet(t, f.store, "amy").HasBuddy())
		assert.True(t, mustGet(t, f.store, "bob").BuddyOf("carl"))
		assert.Equal(t, []string{"amy"}, f.store.updatedIDs())
	})
}

func TestBuddyService_Queries(t *testing.T) {
	ctx := context.Background()

	t.Run("pending requests are repaired first", func(t *testing.T) {
		f := newBuddyFixture(t,
			withLists("amy", []string{"bob", "ghost"}, []string{"carl", "dan", "carl"}),
			withLists("bob", nil, []string{"amy"}), withLists("carl", []string{"amy"}, nil),
			buddied("dan", "eve"), buddied("eve", "dan"),
		)
		pending, err := f.svc.PendingRequests(ctx, "amy")
		require.NoError(t, err)

		require.Len(t, pending.Sent, 1)
		assert.Equal(t, "bob", pending.Sent[0].ID)
		require.Len(t, pending.Received, 1)
		assert.Equal(t, "carl", pending.Received[0].ID)

		amy := mustGet(t, f.store, "amy")
		assert.Equal(t, []string{"bob"}, amy.SentIDs())
		assert.Equal(t, []string{"carl"}, amy.RequestIDs())
	})

	t.Run("current buddy", func(t *testing.T) {
		bob := buddied("bob", "amy")
		bob.PfpKey = "profile-pictures/bob/x.png"
		f := newBuddyFixture(t, buddied("amy", "bob"), bob, buddied("carl", "amy"))

		info, err := f.svc.CurrentBuddy(ctx, "amy")
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, "bob", info.ID)
		assert.Equal(t, "https://blobs.test/profile-pictures/bob/x.png", info.PfpURL)

		info, err = f.svc.CurrentBuddy(ctx, "carl")
		require.NoError(t, err)
		assert.Nil(t, info, "one sided pointer is not a buddy")
	})
}

func TestBuddyService_Sequences(t *testing.T) {
	ctx := context.Background()

	t.Run("sending twice", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), profile("bob"))
		require.NoError(t, f.svc.SendRequest(ctx, "amy", "bob"))
		assert.ErrorIs(t, f.svc.SendRequest(ctx, "amy", "bob"), ErrDuplicateRequest)

		assert.Equal(t, []string{"bob"}, mustGet(t, f.store, "amy").SentIDs())
		assert.Equal(t, []string{"amy"}, mustGet(t, f.store, "bob").RequestIDs())
		assert.Len(t, f.publisher.types(), 1)
	})

	t.Run("accept then leave leaves no pending entries", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), profile("bob"), profile("carl"))
		require.NoError(t, f.svc.SendRequest(ctx, "amy", "bob"))
		require.NoError(t, f.svc.SendRequest(ctx, "carl", "amy"))
		require.NoError(t, f.svc.AcceptRequest(ctx, "bob", "amy"))
		require.NoError(t, f.svc.LeaveBuddy(ctx, "bob"))

		for _, id := range []string{"amy", "bob"} {
			p := mustGet(t, f.store, id)
			assert.False(t, p.HasBuddy(), id)
			assert.Empty(t, p.SentIDs(), id)
			assert.Empty(t, p.RequestIDs(), id)
		}
		assert.Equal(t, PairNone, DerivePairState(mustGet(t, f.store, "amy"), mustGet(t, f.store, "bob")))
	})

	t.Run("losing requester is pruned on repair", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), profile("bob"), profile("carl"))
		require.NoError(t, f.svc.SendRequest(ctx, "amy", "bob"))
		require.NoError(t, f.svc.SendRequest(ctx, "carl", "bob"))
		require.NoError(t, f.svc.AcceptRequest(ctx, "bob", "amy"))
		assert.Equal(t, []string{"bob"}, mustGet(t, f.store, "carl").SentIDs(), "stale until repaired")

		result, err := f.repair.RepairUserReferences(ctx, "carl")
		require.NoError(t, err)
		assert.True(t, result.Changed)
		assert.Empty(t, result.Sent)
		assert.Empty(t, mustGet(t, f.store, "carl").SentIDs())
	})

	t.Run("half written send heals on the next read", func(t *testing.T) {
		f := newBuddyFixture(t, profile("amy"), profile("bob"))
		f.store.failUpdatesFor("bob")
		require.ErrorIs(t, f.svc.SendRequest(ctx, "amy", "bob"), ErrPartialWrite)
		require.Equal(t, []string{"bob"}, mustGet(t, f.store, "amy").SentIDs())

		f.store.failUpdate = map[string]bool{}
		pending, err := f.svc.PendingRequests(ctx, "amy")
		require.NoError(t, err)
		assert.Empty(t, pending.Sent)
		assert.Empty(t, mustGet(t, f.store, "amy").SentIDs())

		pending, err = f.svc.PendingRequests(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, pending.Received)

		require.NoError(t, f.svc.SendRequest(ctx, "amy", "bob"), "re-send after repair")
		assert.Equal(t, []string{"bob"}, mustGet(t, f.store, "amy").SentIDs())
		assert.Equal(t, []string{"amy"}, mustGet(t, f.store, "bob").RequestIDs())
	})
}
