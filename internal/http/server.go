package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/internal/log"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/engine"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/eventbus"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/integration"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/subscription"
)

// Server exposes the orchestration core over HTTP.
type Server struct {
	engine      *engine.Engine
	bus         *eventbus.Bus
	registry    *subscription.Registry
	coordinator *integration.Coordinator
}

func NewServer(eng *engine.Engine, bus *eventbus.Bus, registry *subscription.Registry, coordinator *integration.Coordinator) *Server {
	return &Server{engine: eng, bus: bus, registry: registry, coordinator: coordinator}
}

// Echo builds the configured router.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/workflows", s.executeWorkflow)
	e.GET("/workflows", s.listWorkflows)
	e.GET("/workflows/:id/status", s.workflowStatus)
	e.POST("/workflows/:id/cancel", s.cancelWorkflow)
	e.POST("/workflows/:id/resume", s.resumeWorkflow)

	e.GET("/events/pending", s.pendingEvents)

	e.POST("/subscriptions", s.createSubscription)
	e.GET("/subscriptions", s.listSubscriptions)
	e.GET("/subscriptions/:id", s.getSubscription)
	e.PATCH("/subscriptions/:id", s.updateSubscription)
	e.DELETE("/subscriptions/:id", s.deleteSubscription)

	e.POST("/requests/:id/repair", s.repairRequest)
	e.POST("/requests/:id/autofulfill", s.autoFulfillRequest)

	return e
}

// Start runs the server on the given port.
func (s *Server) Start(port int) error {
	log.GetLogger().Infof("Starting orchestrator server on :%d", port)
	return s.Echo().Start(fmt.Sprintf(":%d", port))
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) executeWorkflow(c echo.Context) error {
	var req engine.WorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	result, err := s.engine.ExecuteWorkflow(c.Request().Context(), req)
	if err != nil {
		log.GetLogger().Errorf("Failed to execute workflow: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	status := http.StatusOK
	if !result.Success && result.WorkflowID == "" {
		status = http.StatusBadRequest
	}
	return c.JSON(status, result)
}

func (s *Server) listWorkflows(c echo.Context) error {
	instances, err := s.engine.ListWorkflows()
	if err != nil {
		log.GetLogger().Errorf("Failed to list workflows: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if status := c.QueryParam("status"); status != "" {
		filtered := make([]models.WorkflowInstance, 0, len(instances))
		for _, wf := range instances {
			if wf.Status == models.WorkflowStatus(status) {
				filtered = append(filtered, wf)
			}
		}
		instances = filtered
	}
	return c.JSON(http.StatusOK, instances)
}

func (s *Server) workflowStatus(c echo.Context) error {
	snapshot, err := s.engine.GetWorkflowStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		log.GetLogger().Errorf("Failed to get workflow status: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !snapshot.Success {
		return c.JSON(http.StatusNotFound, snapshot)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) cancelWorkflow(c echo.Context) error {
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = c.Bind(&body)
	result, err := s.engine.CancelWorkflow(c.Request().Context(), c.Param("id"), body.UserID)
	if err != nil {
		log.GetLogger().Errorf("Failed to cancel workflow: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !result.Success {
		return c.JSON(http.StatusConflict, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) resumeWorkflow(c echo.Context) error {
	result, err := s.engine.ResumeWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		log.GetLogger().Errorf("Failed to resume workflow: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !result.Success {
		return c.JSON(http.StatusConflict, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) pendingEvents(c echo.Context) error {
	max := 50
	if v := c.QueryParam("max"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			max = parsed
		}
	}
	events, err := s.bus.GetPendingEvents(max)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) createSubscription(c echo.Context) error {
	var sub models.EventSubscription
	if err := c.Bind(&sub); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	id, err := s.registry.Create(sub)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) listSubscriptions(c echo.Context) error {
	subs, err := s.registry.List()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, subs)
}

func (s *Server) getSubscription(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid subscription id"})
	}
	sub, err := s.registry.Get(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "subscription not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sub)
}

func (s *Server) updateSubscription(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid subscription id"})
	}
	var upd models.SubscriptionUpdate
	if err := c.Bind(&upd); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := s.registry.Update(id, upd); err != nil {
		if err == storage.ErrNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "subscription not found"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteSubscription(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid subscription id"})
	}
	if err := s.registry.Delete(id); err != nil {
		if err == storage.ErrNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "subscription not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) repairRequest(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request id"})
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = c.Bind(&body)
	result := s.coordinator.ExecuteRepairWorkflow(c.Request().Context(), id, body.UserID)
	if !result.Success {
		return c.JSON(http.StatusUnprocessableEntity, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) autoFulfillRequest(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request id"})
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = c.Bind(&body)
	result := s.coordinator.AutoFulfillRequest(c.Request().Context(), id, body.UserID)
	if !result.Success {
		return c.JSON(http.StatusUnprocessableEntity, result)
	}
	return c.JSON(http.StatusOK, result)
}
