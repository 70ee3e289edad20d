package apiserver

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"studybuddy/internal/services"
)

// TaskHandler handles the buddy accountability task flow.
type TaskHandler struct {
	taskService services.TaskService
	maxUpload   int64
	logger      *zap.Logger
}

// NewTaskHandler creates a TaskHandler. maxUpload caps proof uploads in bytes.
func NewTaskHandler(taskService services.TaskService, maxUpload int64, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{taskService: taskService, maxUpload: maxUpload, logger: logger.Named("tasks")}
}

// CreateTaskPayload is the body of POST /tasks.
type CreateTaskPayload struct {
	Task string `json:"task" validate:"required,max=1000"`
}

// CreateTaskHandler handles POST /tasks, assigning a task to the caller's buddy.
func (h *TaskHandler) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload CreateTaskPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	task, err := h.taskService.CreateTask(r.Context(), userID, payload.Task)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, task)
}

// MyTaskHandler handles GET /tasks/mine.
func (h *TaskHandler) MyTaskHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.taskService.TaskForReceiver(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"task": view})
}

// BuddyTaskHandler handles GET /tasks/buddy.
func (h *TaskHandler) BuddyTaskHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.taskService.TaskForBuddy(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{"task": view})
}

// SubmitProofHandler handles POST /tasks/{id}/proof with a multipart "file".
func (h *TaskHandler) SubmitProofHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	upload, closeFile, ok := readUpload(w, r, h.maxUpload)
	if !ok {
		return
	}
	defer closeFile()

	view, err := h.taskService.SubmitProof(r.Context(), userID, mux.Vars(r)["id"], upload)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// ApproveTaskHandler handles POST /tasks/{id}/approve.
func (h *TaskHandler) ApproveTaskHandler(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.taskService.ApproveTask, "task approved")
}

// DeclineTaskHandler handles POST /tasks/{id}/decline.
func (h *TaskHandler) DeclineTaskHandler(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.taskService.DeclineTask, "proof declined")
}

// RejectTaskHandler handles DELETE /tasks/{id}, the receiver giving up the task.
func (h *TaskHandler) RejectTaskHandler(w http.ResponseWriter, r *http.Request) {
	h.taskAction(w, r, h.taskService.RejectTask, "task rejected")
}

func (h *TaskHandler) taskAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, userID, taskID string) error, message string) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := action(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": message})
}
