package http

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/loopxjstar/Get-Gmails/core/domain"
	"github.com/loopxjstar/Get-Gmails/core/port/out"
	"github.com/loopxjstar/Get-Gmails/core/service/auth"
	"github.com/loopxjstar/Get-Gmails/core/service/export"
	"github.com/loopxjstar/Get-Gmails/pkg/apperr"
	"github.com/loopxjstar/Get-Gmails/pkg/logger"
	"github.com/loopxjstar/Get-Gmails/pkg/response"
)

type ExportHandler struct {
	auth     *auth.OAuthService
	orch     *export.Orchestrator
	registry *export.Registry
}

func NewExportHandler(authService *auth.OAuthService, orch *export.Orchestrator, registry *export.Registry) *ExportHandler {
	return &ExportHandler{auth: authService, orch: orch, registry: registry}
}

func (h *ExportHandler) Register(app fiber.Router) {
	api := app.Group("/api")
	api.Post("/start-export", h.StartExport)
	api.Get("/job-status/:id", h.JobStatus)
	api.Get("/download/:id", h.Download)
	api.Post("/export/:id/cancel", h.Cancel)
}

// session resolves the request's cookie into a live session.
func (h *ExportHandler) session(c *fiber.Ctx) (*domain.Session, error) {
	id := c.Cookies(SessionCookie)
	if id == "" {
		return nil, apperr.Unauthorized("sign in required")
	}
	sess, err := h.auth.Session(c.Context(), id)
	if err != nil {
		if errors.Is(err, out.ErrSessionNotFound) {
			return nil, apperr.SessionExpired()
		}
		return nil, apperr.InternalWithError(err)
	}
	return sess, nil
}

type startExportRequest struct {
	StartMonth int    `json:"start_month"`
	StartYear  int    `json:"start_year"`
	Mode       string `json:"mode"`
}

// StartExport validates and enqueues a job; duplicates coalesce onto
// the running job's id.
func (h *ExportHandler) StartExport(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	var body startExportRequest
	if err := c.BodyParser(&body); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	req := domain.ExportRequest{
		StartMonth: body.StartMonth,
		StartYear:  body.StartYear,
		Mode:       domain.ExportMode(body.Mode),
	}
	job, created, err := h.orch.Submit(sess, req)
	if err != nil {
		return err
	}

	status := fiber.StatusAccepted
	if !created {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"job_id":   job.ID,
			"existing": !created,
		},
	})
}

type artifactSummary struct {
	Filename    string `json:"filename"`
	RecordCount int    `json:"record_count"`
}

type jobStatusResponse struct {
	ID               string            `json:"id"`
	Status           domain.JobStatus  `json:"status"`
	Progress         float64           `json:"progress"`
	Message          string            `json:"message"`
	Artifacts        []artifactSummary `json:"artifacts"`
	TotalRecordCount int               `json:"total_record_count"`
}

// JobStatus returns a snapshot for polling.
func (h *ExportHandler) JobStatus(c *fiber.Ctx) error {
	if _, err := h.session(c); err != nil {
		return err
	}

	job, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return apperr.NotFound("job")
	}

	resp := jobStatusResponse{
		ID:               job.ID,
		Status:           job.Status,
		Progress:         job.Progress,
		Message:          job.Message,
		Artifacts:        make([]artifactSummary, 0, len(job.Artifacts)),
		TotalRecordCount: job.TotalRecords,
	}
	for _, a := range job.Artifacts {
		resp.Artifacts = append(resp.Artifacts, artifactSummary{
			Filename:    a.Filename,
			RecordCount: a.RecordCount,
		})
	}
	return response.OK(c, resp)
}

// Download streams one CSV artifact of a completed job.
func (h *ExportHandler) Download(c *fiber.Ctx) error {
	if _, err := h.session(c); err != nil {
		return err
	}

	job, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return apperr.NotFound("job")
	}
	if job.Status != domain.StatusCompleted {
		return apperr.JobNotCompleted(job.ID)
	}

	idx := c.QueryInt("artifact", 0)
	if idx < 0 || idx >= len(job.Artifacts) {
		return apperr.BadRequest(fmt.Sprintf("artifact index out of range (job has %d)", len(job.Artifacts)))
	}
	art := job.Artifacts[idx]

	logger.WithJob(job.ID).
		WithField("filename", art.Filename).
		WithField("records", art.RecordCount).
		Info("artifact downloaded")

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", art.Filename))
	return c.Send(art.CSV)
}

// Cancel stops a running job. Terminal jobs are a no-op success.
func (h *ExportHandler) Cancel(c *fiber.Ctx) error {
	if _, err := h.session(c); err != nil {
		return err
	}

	id := c.Params("id")
	job, ok := h.registry.Get(id)
	if !ok {
		return apperr.NotFound("job")
	}
	if job.Status.Terminal() {
		return response.OK(c, fiber.Map{"canceled": false, "status": job.Status})
	}

	canceled := h.registry.Cancel(id)
	if canceled {
		logger.WithJob(id).Info("cancellation requested")
	}
	return response.OK(c, fiber.Map{"canceled": canceled, "status": job.Status})
}
