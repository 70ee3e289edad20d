package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/apptypes"
)

type taskFixture struct {
	tasks     *memoryTasks
	blobs     *memoryBlobs
	publisher *recordingPublisher
	svc       TaskService
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	store := newTestStore(t)
	seed(t, store, buddied("amy", "bob"), buddied("bob", "amy"), profile("carl"), buddied("dan", "amy"))
	f := &taskFixture{tasks: newMemoryTasks(), blobs: newMemoryBlobs(), publisher: &recordingPublisher{}}
	f.svc = NewTaskService(f.tasks, store, f.blobs, f.publisher, testLogger())
	return f
}

func TestTaskService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)

	task, err := f.svc.CreateTask(ctx, "amy", "  read chapter 3 ")
	require.NoError(t, err)
	assert.Equal(t, "bob", task.ReceiverID)
	assert.Equal(t, "read chapter 3", task.Task)

	_, err = f.svc.CreateTask(ctx, "amy", "another")
	assert.ErrorIs(t, err, ErrTaskExists)

	mine, err := f.svc.TaskForReceiver(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, task.ID, mine.ID)

	assert.ErrorIs(t, f.svc.DeclineTask(ctx, "amy", task.ID), ErrNoProof)

	view, err := f.svc.SubmitProof(ctx, "bob", task.ID, pngUpload("photo.PNG"))
	require.NoError(t, err)
	require.True(t, view.HasProof())
	firstProof := *view.ImgProof
	assert.True(t, strings.HasPrefix(firstProof, "task-proofs/bob/proof-"))
	assert.True(t, strings.HasSuffix(firstProof, ".png"))
	assert.NotEmpty(t, view.ProofURL)
	assert.True(t, f.blobs.has(firstProof))

	theirs, err := f.svc.TaskForBuddy(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, firstProof, *theirs.ImgProof)

	require.NoError(t, f.svc.DeclineTask(ctx, "amy", task.ID))
	assert.False(t, f.blobs.has(firstProof))
	declined, err := f.svc.TaskForReceiver(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, declined.HasProof(), "declined task stays open without proof")

	_, err = f.svc.SubmitProof(ctx, "bob", task.ID, pngUpload("again.png"))
	require.NoError(t, err)
	require.NoError(t, f.svc.ApproveTask(ctx, "amy", task.ID))
	assert.Zero(t, f.blobs.count("task-proofs/"))

	gone, err := f.svc.TaskForReceiver(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Equal(t, []apptypes.EventType{
		apptypes.EventTaskCreated,
		apptypes.EventTaskProofSubmitted,
		apptypes.EventTaskDeclined,
		apptypes.EventTaskProofSubmitted,
		apptypes.EventTaskApproved,
	}, f.publisher.types())
}

func TestTaskService_Permissions(t *testing.T) {
	ctx := context.Background()

	t.Run("no buddy", func(t *testing.T) {
		f := newTaskFixture(t)
		_, err := f.svc.CreateTask(ctx, "carl", "x")
		assert.ErrorIs(t, err, ErrNoBuddy)
		_, err = f.svc.CreateTask(ctx, "dan", "x")
		assert.ErrorIs(t, err, ErrNoBuddy, "one sided pointer")
	})

	t.Run("only the assigning buddy reviews", func(t *testing.T) {
		f := newTaskFixture(t)
		task, err := f.svc.CreateTask(ctx, "amy", "x")
		require.NoError(t, err)
		_, err = f.svc.SubmitProof(ctx, "bob", task.ID, pngUpload("p.png"))
		require.NoError(t, err)

		assert.ErrorIs(t, f.svc.ApproveTask(ctx, "bob", task.ID), ErrNotTaskApprover)
		assert.ErrorIs(t, f.svc.DeclineTask(ctx, "dan", task.ID), ErrNotTaskApprover)
		_, err = f.svc.SubmitProof(ctx, "amy", task.ID, pngUpload("p.png"))
		assert.ErrorIs(t, err, ErrNotTaskReceiver)
	})

	t.Run("bad proof", func(t *testing.T) {
		f := newTaskFixture(t)
		task, err := f.svc.CreateTask(ctx, "amy", "x")
		require.NoError(t, err)

		pdf := pngUpload("doc.pdf")
		pdf.ContentType = "application/pdf"
		_, err = f.svc.SubmitProof(ctx, "bob", task.ID, pdf)
		assert.ErrorIs(t, err, ErrInvalidProofType)

		huge := pngUpload("huge.png")
		huge.Size = MaxImageSize + 1
		_, err = f.svc.SubmitProof(ctx, "bob", task.ID, huge)
		assert.ErrorIs(t, err, ErrProofTooLarge)
	})

	t.Run("receiver rejects", func(t *testing.T) {
		f := newTaskFixture(t)
		task, err := f.svc.CreateTask(ctx, "amy", "x")
		require.NoError(t, err)
		assert.ErrorIs(t, f.svc.RejectTask(ctx, "amy", task.ID), ErrNotTaskReceiver)
		require.NoError(t, f.svc.RejectTask(ctx, "bob", task.ID))
		assert.ErrorIs(t, f.svc.RejectTask(ctx, "bob", task.ID), ErrTaskNotFound)
	})
}
