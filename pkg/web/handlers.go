// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	analyticsService *services.Analytics
	validator        *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	analyticsService *services.Analytics,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		analyticsService: analyticsService,
		validator:        validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  result.Limit,
			"offset": result.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListWorkflowsRequest parses query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{
		OrganizationID: organizationID(c),
		Search:         c.Query("search"),
		SortBy:         c.Query("sort_by"),
		SortOrder:      c.Query("sort_order"),
	}

	var err error

	if req.Limit, req.Offset, err = parsePage(c); err != nil {
		return nil, err
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	if triggerStr := c.Query("trigger_type"); triggerStr != "" {
		trigger := models.TriggerType(triggerStr)
		req.TriggerType = &trigger
	}

	return req, nil
}

func parsePage(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, fmt.Errorf("limit: %w", err)
		}

		limit = parsed
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, fmt.Errorf("offset: %w", err)
		}

		offset = parsed
	}

	return limit, offset, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Get(c.Context(), c.Params("id"), organizationID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	catalog := h.workflowService.Templates()

	response := make([]TemplateResponse, len(catalog))
	for i, tpl := range catalog {
		response[i] = TransformTemplateResponse(tpl)
	}

	return c.JSON(fiber.Map{"templates": response})
}

var errInvalidJSON = errors.New("invalid JSON format")

// bind decodes and validates a JSON request body.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if err := c.Bind().JSON(req); err != nil {
		return errInvalidJSON
	}

	return h.validator.Struct(req)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), services.CreateWorkflowRequest{
		OrganizationID: organizationID(c),
		ActorID:        actorID(c),
		Title:          req.Title,
		Description:    req.Description,
		TemplateID:     req.TemplateID,
		Trigger:        req.Trigger,
		Settings:       req.Settings,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), services.UpdateWorkflowRequest{
		ID:              c.Params("id"),
		OrganizationID:  organizationID(c),
		ActorID:         actorID(c),
		ExpectedVersion: req.Version,
		Title:           req.Title,
		Description:     req.Description,
		Trigger:         req.Trigger,
		Settings:        req.Settings,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ChangeWorkflowStatus(c fiber.Ctx) error {
	var req ChangeStatusRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.ChangeStatus(c.Context(), services.ChangeStatusRequest{
		ID:              c.Params("id"),
		OrganizationID:  organizationID(c),
		ActorID:         actorID(c),
		ExpectedVersion: req.Version,
		Status:          models.WorkflowStatus(req.Status),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// DeleteWorkflow takes the expected version from the query string since
// DELETE bodies are dropped by some proxies.
func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	req := services.DeleteWorkflowRequest{
		ID:             c.Params("id"),
		OrganizationID: organizationID(c),
		ActorID:        actorID(c),
	}

	if versionStr := c.Query("version"); versionStr != "" {
		version, err := strconv.ParseInt(versionStr, 10, 64)
		if err != nil {
			return badRequest(c, "Invalid query parameters: version must be an integer")
		}

		req.ExpectedVersion = &version
	}

	if err := h.workflowService.Delete(c.Context(), req); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DuplicateWorkflow(c fiber.Ctx) error {
	var req DuplicateWorkflowRequest

	if len(c.Body()) > 0 {
		if err := h.bind(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	duplicate, err := h.workflowService.Duplicate(c.Context(), services.DuplicateWorkflowRequest{
		ID:             c.Params("id"),
		OrganizationID: organizationID(c),
		ActorID:        actorID(c),
		Title:          req.Title,
		CopySteps:      req.CopySteps,
		CopySettings:   req.CopySettings,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(duplicate)
}

func (h *APIHandlers) ApplyStepActions(c fiber.Ctx) error {
	var req StepActionsRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.ApplyStepActions(c.Context(), services.ApplyStepActionsRequest{
		WorkflowID:      c.Params("id"),
		OrganizationID:  organizationID(c),
		ActorID:         actorID(c),
		ExpectedVersion: req.Version,
		Actions:         req.Actions,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ReorderSteps(c fiber.Ctx) error {
	var req ReorderStepsRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.workflowService.ReorderSteps(c.Context(), services.ReorderStepsRequest{
		WorkflowID:      c.Params("id"),
		OrganizationID:  organizationID(c),
		ActorID:         actorID(c),
		ExpectedVersion: req.Version,
		Instructions:    req.Instructions,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) IssueStepUploadURL(c fiber.Ctx) error {
	var req UploadURLRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	upload, err := h.workflowService.IssueStepUploadURL(c.Context(), services.IssueUploadURLRequest{
		WorkflowID:     c.Params("id"),
		OrganizationID: organizationID(c),
		StepID:         c.Params("stepId"),
		FileName:       req.FileName,
		ContentType:    req.ContentType,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(upload)
}

func (h *APIHandlers) GetAnalytics(c fiber.Ctx) error {
	req := services.AnalyticsRequest{
		WorkflowID:     c.Params("id"),
		OrganizationID: organizationID(c),
	}

	if daysStr := c.Query("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: days must be an integer")
		}

		req.Days = days
	}

	report, err := h.analyticsService.Get(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}
