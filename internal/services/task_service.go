package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/models"
	"studybuddy/internal/storage"
)

var (
	ErrNoBuddy          = errors.New("user has no buddy")
	ErrTaskExists       = errors.New("buddy already has an open task")
	ErrTaskNotFound     = storage.ErrTaskNotFound
	ErrNotTaskApprover  = errors.New("only the buddy who assigned the task can review it")
	ErrNotTaskReceiver  = errors.New("task is not assigned to this user")
	ErrNoProof          = errors.New("task has no proof to review")
	ErrEmptyTask        = errors.New("task text is required")
	ErrInvalidProofType = ErrInvalidImageType
	ErrProofTooLarge    = ErrImageTooLarge
)

// TaskService runs the accountability task lifecycle between buddies.
type TaskService interface {
	CreateTask(ctx context.Context, senderID, text string) (*models.Task, error)
	// TaskForReceiver returns the user's own open task, or nil.
	TaskForReceiver(ctx context.Context, userID string) (*models.TaskView, error)
	// TaskForBuddy returns the open task assigned to the user's buddy, or nil.
	TaskForBuddy(ctx context.Context, userID string) (*models.TaskView, error)
	SubmitProof(ctx context.Context, receiverID, taskID string, upload Upload) (*models.TaskView, error)
	ApproveTask(ctx context.Context, approverID, taskID string) error
	DeclineTask(ctx context.Context, approverID, taskID string) error
	RejectTask(ctx context.Context, receiverID, taskID string) error
}

type taskService struct {
	tasks     storage.TaskRepository
	profiles  storage.ProfileStore
	blobs     apptypes.BlobStore
	pictures  *pictureResolver
	publisher EventPublisher
	logger    *zap.Logger
}

// NewTaskService creates a TaskService.
func NewTaskService(
	tasks storage.TaskRepository,
	profiles storage.ProfileStore,
	blobs apptypes.BlobStore,
	publisher EventPublisher,
	logger *zap.Logger,
) TaskService {
	return &taskService{
		tasks:     tasks,
		profiles:  profiles,
		blobs:     blobs,
		pictures:  newPictureResolver(blobs, logger),
		publisher: publisher,
		logger:    logger.Named("task"),
	}
}

// mutualBuddy returns the user's buddy ID when both profiles point at each other.
func (s *taskService) mutualBuddy(ctx context.Context, userID string) (string, error) {
	user, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.HasBuddy() {
		return "", ErrNoBuddy
	}
	buddy, err := s.profiles.Get(ctx, *user.BuddyID)
	if errors.Is(err, storage.ErrProfileNotFound) {
		return "", ErrNoBuddy
	}
	if err != nil {
		return "", err
	}
	if !buddy.BuddyOf(userID) {
		return "", ErrNoBuddy
	}
	return buddy.ID, nil
}

func (s *taskService) view(ctx context.Context, task *models.Task) *models.TaskView {
	if task == nil {
		return nil
	}
	view := &models.TaskView{Task: task}
	if task.HasProof() {
		view.ProofURL = s.pictures.url(ctx, *task.ImgProof)
	}
	return view
}

func (s *taskService) CreateTask(ctx context.Context, senderID, text string) (*models.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTask
	}
	receiverID, err := s.mutualBuddy(ctx, senderID)
	if err != nil {
		return nil, err
	}
	existing, err := s.tasks.FindByReceiver(ctx, receiverID)
	if err != nil {
		return nil, fmt.Errorf("look up open task: %w", err)
	}
	if existing != nil {
		return nil, ErrTaskExists
	}

	now := time.Now().UTC()
	task := &models.Task{Task: text, SenderID: senderID, ReceiverID: receiverID, Time: &now}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	notify(ctx, s.logger, s.publisher, apptypes.EventTaskCreated, receiverID, senderID, task)
	return task, nil
}

func (s *taskService) TaskForReceiver(ctx context.Context, userID string) (*models.TaskView, error) {
	task, err := s.tasks.FindByReceiver(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, task), nil
}

func (s *taskService) TaskForBuddy(ctx context.Context, userID string) (*models.TaskView, error) {
	buddyID, err := s.mutualBuddy(ctx, userID)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.FindByReceiver(ctx, buddyID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, task), nil
}

// SubmitProof uploads the photo and points the task at it, replacing any earlier proof.
func (s *taskService) SubmitProof(ctx context.Context, receiverID, taskID string, upload Upload) (*models.TaskView, error) {
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	ext, err := upload.imageExtension()
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ReceiverID != receiverID {
		return nil, ErrNotTaskReceiver
	}

	key := fmt.Sprintf("task-proofs/%s/proof-%d.%s", receiverID, time.Now().UnixMilli(), ext)
	if _, err := s.blobs.Upload(ctx, key, upload.Reader, upload.Size, upload.ContentType); err != nil {
		return nil, fmt.Errorf("upload proof: %w", err)
	}
	if err := s.tasks.SetProof(ctx, taskID, &key); err != nil {
		s.removeBlob(ctx, key)
		return nil, fmt.Errorf("save proof: %w", err)
	}
	if task.HasProof() && *task.ImgProof != key {
		s.removeBlob(ctx, *task.ImgProof)
	}

	task.ImgProof = &key
	notify(ctx, s.logger, s.publisher, apptypes.EventTaskProofSubmitted, task.SenderID, receiverID, task)
	return s.view(ctx, task), nil
}

// reviewable loads a task and checks that approverID may approve or decline it.
func (s *taskService) reviewable(ctx context.Context, approverID, taskID string) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.SenderID != approverID {
		return nil, ErrNotTaskApprover
	}
	buddyID, err := s.mutualBuddy(ctx, approverID)
	if errors.Is(err, ErrNoBuddy) || (err == nil && buddyID != task.ReceiverID) {
		return nil, ErrNotTaskApprover
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ApproveTask completes the task: it is deleted and its proof removed.
func (s *taskService) ApproveTask(ctx context.Context, approverID, taskID string) error {
	task, err := s.reviewable(ctx, approverID, taskID)
	if err != nil {
		return err
	}
	if err := s.tasks.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("delete approved task: %w", err)
	}
	if task.HasProof() {
		s.removeBlob(ctx, *task.ImgProof)
	}
	notify(ctx, s.logger, s.publisher, apptypes.EventTaskApproved, task.ReceiverID, approverID, task)
	return nil
}

// DeclineTask clears the proof so the receiver can try again; the task stays open.
func (s *taskService) DeclineTask(ctx context.Context, approverID, taskID string) error {
	task, err := s.reviewable(ctx, approverID, taskID)
	if err != nil {
		return err
	}
	if !task.HasProof() {
		return ErrNoProof
	}
	if err := s.tasks.SetProof(ctx, taskID, nil); err != nil {
		return fmt.Errorf("clear proof: %w", err)
	}
	s.removeBlob(ctx, *task.ImgProof)
	task.ImgProof = nil
	notify(ctx, s.logger, s.publisher, apptypes.EventTaskDeclined, task.ReceiverID, approverID, task)
	return nil
}

// RejectTask lets the receiver discard a task assigned to them.
func (s *taskService) RejectTask(ctx context.Context, receiverID, taskID string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.ReceiverID != receiverID {
		return ErrNotTaskReceiver
	}
	if err := s.tasks.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if task.HasProof() {
		s.removeBlob(ctx, *task.ImgProof)
	}
	return nil
}

func (s *taskService) removeBlob(ctx context.Context, key string) {
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Remove(ctx, key); err != nil {
		s.logger.Warn("failed to remove blob", zap.String("path", key), zap.Error(err))
	}
}
