package web

import (
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executionService.Start(c.Context(), services.StartExecutionRequest{
		WorkflowID:     c.Params("id"),
		OrganizationID: organizationID(c),
		ContactID:      req.ContactID,
		ActorID:        actorID(c),
		Source:         req.Source,
		CustomData:     req.CustomData,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	req := services.ListExecutionsRequest{
		WorkflowID:     c.Params("id"),
		OrganizationID: organizationID(c),
		SortBy:         c.Query("sort_by"),
		SortOrder:      c.Query("sort_order"),
	}

	var err error

	if req.Limit, req.Offset, err = parsePage(c); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ExecutionStatus(statusStr)
		req.Status = &status
	}

	result, err := h.executionService.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Get(c.Context(), c.Params("id"), organizationID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) TransitionExecution(c fiber.Ctx) error {
	var req TransitionExecutionRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executionService.Transition(c.Context(), services.TransitionRequest{
		ID:              c.Params("id"),
		OrganizationID:  organizationID(c),
		ActorID:         actorID(c),
		ExpectedVersion: req.Version,
		Status:          models.ExecutionStatus(req.Status),
		Reason:          req.Reason,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) RecordStep(c fiber.Ctx) error {
	var req RecordStepRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executionService.RecordStep(c.Context(), services.RecordStepRequest{
		ExecutionID:     c.Params("id"),
		OrganizationID:  organizationID(c),
		ExpectedVersion: req.Version,
		StepID:          c.Params("stepId"),
		Status:          models.StepExecutionStatus(req.Status),
		Response:        req.Response,
		Error:           req.Error,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}
