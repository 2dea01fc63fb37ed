// Package api is the control surface for the engine: deploy definitions,
// create and inspect instances, reset and delete them. It only performs
// persistence side effects; execution belongs to the workers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/strand/internal/compiler"
	"github.com/roach88/strand/internal/def"
	"github.com/roach88/strand/internal/store"
)

// Response is the uniform API envelope.
type Response struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func sendSuccess(c *gin.Context, data map[string]any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func sendError(c *gin.Context, statusCode int, errorMsg string) {
	c.JSON(statusCode, Response{Success: false, Error: errorMsg})
}

// deployRequest is the body of POST /workflows.
type deployRequest struct {
	Name       string          `json:"name" binding:"required"`
	Definition json.RawMessage `json:"definition" binding:"required"`
}

// createInstanceRequest is the body of POST /workflows/:name/instances.
type createInstanceRequest struct {
	Blackboard map[string]any `json:"blackboard"`
}

// NewRouter builds the gin router over a store.
func NewRouter(st *store.Store) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		sendSuccess(c, map[string]any{"status": "healthy"})
	})

	r.POST("/workflows", handleDeploy(st))
	r.GET("/workflows", handleListWorkflows(st))
	r.POST("/workflows/:name/instances", handleCreateInstance(st))
	r.GET("/instances", handleListInstances(st))
	r.GET("/instances/:id", handleGetInstance(st))
	r.POST("/instances/:id/reset", handleResetInstance(st))
	r.DELETE("/instances/:id", handleDeleteInstance(st))

	return r
}

// handleDeploy validates and upserts a definition by name.
func handleDeploy(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req deployRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}

		root, err := compiler.ValidateDefinition(req.Definition)
		if err != nil {
			sendError(c, http.StatusUnprocessableEntity, err.Error())
			return
		}

		// Re-marshal so the stored form is the canonical wire encoding,
		// not whatever whitespace the client sent.
		canonical, err := def.MarshalTree(root)
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d, err := st.UpsertDefinition(c.Request.Context(), req.Name, canonical)
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		sendSuccess(c, map[string]any{"id": d.ID, "name": d.Name})
	}
}

func handleListWorkflows(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		defs, err := st.ListDefinitions(c.Request.Context())
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		list := make([]map[string]any, 0, len(defs))
		for _, d := range defs {
			list = append(list, map[string]any{
				"id":         d.ID,
				"name":       d.Name,
				"updated_at": d.UpdatedAt,
			})
		}
		sendSuccess(c, map[string]any{"workflows": list})
	}
}

func handleCreateInstance(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createInstanceRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				sendError(c, http.StatusBadRequest, "invalid request: "+err.Error())
				return
			}
		}

		d, err := st.GetDefinition(c.Request.Context(), c.Param("name"))
		if errors.Is(err, store.ErrNotFound) {
			sendError(c, http.StatusNotFound, "workflow not found")
			return
		}
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		inst, err := st.CreateInstance(c.Request.Context(), d.ID, req.Blackboard, time.Now())
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		sendSuccess(c, map[string]any{"id": inst.ID, "status": inst.Status})
	}
}

func handleListInstances(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		insts, err := st.ListInstances(c.Request.Context())
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		list := make([]map[string]any, 0, len(insts))
		for _, inst := range insts {
			list = append(list, map[string]any{
				"id":            inst.ID,
				"definition_id": inst.DefinitionID,
				"status":        inst.Status,
				"next_run_at":   inst.NextRunAt,
			})
		}
		sendSuccess(c, map[string]any{"instances": list})
	}
}

// handleGetInstance joins the instance with its definition and steps.
func handleGetInstance(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		inst, err := st.GetInstance(ctx, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			sendError(c, http.StatusNotFound, "instance not found")
			return
		}
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		d, err := st.GetDefinitionByID(ctx, inst.DefinitionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}

		steps, err := st.StepsForInstance(ctx, inst.ID)
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		stepList := make([]map[string]any, 0, len(steps))
		for _, s := range steps {
			stepList = append(stepList, map[string]any{
				"node_id":    s.NodeID,
				"status":     s.Status,
				"attempts":   s.Attempts,
				"last_error": s.LastError,
				"output":     s.Output,
			})
		}

		data := map[string]any{
			"id":          inst.ID,
			"status":      inst.Status,
			"blackboard":  inst.Blackboard,
			"next_run_at": inst.NextRunAt,
			"steps":       stepList,
		}
		if d.Name != "" {
			data["workflow"] = d.Name
		}
		sendSuccess(c, data)
	}
}

func handleResetInstance(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := st.ResetInstance(c.Request.Context(), c.Param("id"), time.Now())
		if errors.Is(err, store.ErrNotFound) {
			sendError(c, http.StatusNotFound, "instance not found")
			return
		}
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		sendSuccess(c, map[string]any{"id": c.Param("id"), "status": store.InstanceRunnable})
	}
}

func handleDeleteInstance(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := st.DeleteInstance(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			sendError(c, http.StatusNotFound, "instance not found")
			return
		}
		if err != nil {
			sendError(c, http.StatusInternalServerError, err.Error())
			return
		}
		sendSuccess(c, map[string]any{"id": c.Param("id"), "deleted": true})
	}
}
