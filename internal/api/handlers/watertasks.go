// Package handlers contains the HTTP handler implementations for the
// hydration reminder API. Each handler depends on narrow, locally defined
// interfaces so tests can inject function-field mocks instead of wiring a
// database or the WeChat client.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hydromate/internal/core"
	"hydromate/internal/types"
)

// TaskEngine is the slice of the lifecycle engine the water-task handler
// consumes. Implemented by tasks.Service.
type TaskEngine interface {
	CompleteTask(ctx context.Context, openid, taskID string) (*types.WaterTask, error)
	CancelCompletion(ctx context.Context, openid, taskID string) (*types.WaterTask, error)
	ListTasks(ctx context.Context, openid string, day *time.Time) ([]*types.WaterTask, error)
	TodayStatus(ctx context.Context, openid string) (types.DayStats, []*types.WaterTask, error)
	TodayWater(ctx context.Context, openid string) (int, []*types.WaterTask, error)
	DeleteAllTasks(ctx context.Context, openid string) (int64, error)
}

// CompleteTaskRequest is the request body for POST /api/water-task/complete.
// TaskID is optional; when omitted the engine completes the latest-due
// pending task.
type CompleteTaskRequest struct {
	OpenID string `json:"openid" validate:"required"`
	TaskID string `json:"taskId"`
}

// CancelTaskRequest is the request body for POST /api/water-task/cancel.
type CancelTaskRequest struct {
	OpenID string `json:"openid" validate:"required"`
	TaskID string `json:"taskId" validate:"required"`
}

// TaskMutationResponse is returned by the complete and cancel endpoints.
type TaskMutationResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Task    *types.WaterTask `json:"task"`
}

// TaskListResponse is returned by the list and today-water style endpoints
// that carry a task collection.
type TaskListResponse struct {
	Success bool               `json:"success"`
	Count   int                `json:"count"`
	Tasks   []*types.WaterTask `json:"tasks"`
}

// TodayStatusResponse aggregates the day's statistics with its tasks.
type TodayStatusResponse struct {
	Success    bool               `json:"success"`
	TodayStats types.DayStats     `json:"todayStats"`
	Tasks      []*types.WaterTask `json:"tasks"`
}

// TodayWaterResponse reports the day's completed intake.
type TodayWaterResponse struct {
	Success        bool               `json:"success"`
	TotalWater     int                `json:"totalWater"`
	CompletedCount int                `json:"completedCount"`
	Tasks          []*types.WaterTask `json:"tasks"`
}

// DeleteTasksResponse reports the account-reset result.
type DeleteTasksResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deletedCount"`
}

// WaterTaskHandler serves the task lifecycle endpoints.
type WaterTaskHandler struct {
	engine    TaskEngine
	validator *core.Validator
	logger    *slog.Logger
	location  *time.Location
}

// NewWaterTaskHandler creates a WaterTaskHandler. The location is used to
// interpret the optional date query parameter on the list endpoint.
func NewWaterTaskHandler(engine TaskEngine, v *core.Validator, logger *slog.Logger, loc *time.Location) *WaterTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &WaterTaskHandler{
		engine:    engine,
		validator: v,
		logger:    logger,
		location:  loc,
	}
}

// RegisterRoutes mounts the water-task endpoints on the given router.
func (h *WaterTaskHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/water-task", func(r chi.Router) {
		r.Post("/complete", h.Complete)
		r.Post("/cancel", h.Cancel)
		r.Get("/list/{openid}", h.List)
		r.Get("/today-status/{openid}", h.TodayStatus)
		r.Get("/today-water/{openid}", h.TodayWater)
		r.Delete("/delete/{openid}", h.Delete)
	})
}

// Complete handles POST /api/water-task/complete.
func (h *WaterTaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteTaskRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	task, err := h.engine.CompleteTask(r.Context(), req.OpenID, req.TaskID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, TaskMutationResponse{
		Success: true,
		Message: "任务已完成",
		Task:    task,
	})
}

// Cancel handles POST /api/water-task/cancel.
func (h *WaterTaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelTaskRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	task, err := h.engine.CancelCompletion(r.Context(), req.OpenID, req.TaskID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, TaskMutationResponse{
		Success: true,
		Message: "任务已取消完成",
		Task:    task,
	})
}

// List handles GET /api/water-task/list/{openid}. An optional date query
// parameter (YYYY-MM-DD) restricts the listing to that civil day.
func (h *WaterTaskHandler) List(w http.ResponseWriter, r *http.Request) {
	openid, err := pathOpenID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var day *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := types.ParseCivilDate(raw, h.location)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate,
				"date must be in YYYY-MM-DD format", err))
			return
		}
		day = &parsed
	}

	tasks, err := h.engine.ListTasks(r.Context(), openid, day)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, TaskListResponse{
		Success: true,
		Count:   len(tasks),
		Tasks:   nonNilTasks(tasks),
	})
}

// TodayStatus handles GET /api/water-task/today-status/{openid}.
func (h *WaterTaskHandler) TodayStatus(w http.ResponseWriter, r *http.Request) {
	openid, err := pathOpenID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	stats, tasks, err := h.engine.TodayStatus(r.Context(), openid)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, TodayStatusResponse{
		Success:    true,
		TodayStats: stats,
		Tasks:      nonNilTasks(tasks),
	})
}

// TodayWater handles GET /api/water-task/today-water/{openid}.
func (h *WaterTaskHandler) TodayWater(w http.ResponseWriter, r *http.Request) {
	openid, err := pathOpenID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	total, tasks, err := h.engine.TodayWater(r.Context(), openid)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, TodayWaterResponse{
		Success:        true,
		TotalWater:     total,
		CompletedCount: len(tasks),
		Tasks:          nonNilTasks(tasks),
	})
}

// Delete handles DELETE /api/water-task/delete/{openid}.
func (h *WaterTaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	openid, err := pathOpenID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	deleted, err := h.engine.DeleteAllTasks(r.Context(), openid)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, DeleteTasksResponse{
		Success:      true,
		Message:      "删除成功",
		DeletedCount: deleted,
	})
}

// pathOpenID extracts the openid path parameter.
func pathOpenID(r *http.Request) (string, error) {
	openid := chi.URLParam(r, "openid")
	if openid == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingOpenID, "openid is required", nil)
	}
	return openid, nil
}

// nonNilTasks normalizes a nil slice so empty results serialize as [].
func nonNilTasks(tasks []*types.WaterTask) []*types.WaterTask {
	if tasks == nil {
		return []*types.WaterTask{}
	}
	return tasks
}
