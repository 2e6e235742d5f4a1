package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/autoreply/internal/pkg/response"
	ruleSvc "github.com/open-apime/autoreply/internal/service/rule"
)

type RuleHandler struct {
	service *ruleSvc.Service
}

func NewRuleHandler(service *ruleSvc.Service) *RuleHandler {
	return &RuleHandler{service: service}
}

func (h *RuleHandler) Register(r *gin.RouterGroup) {
	r.GET("/instances/:id/rules", h.list)
	r.POST("/instances/:id/rules", h.create)
	r.GET("/instances/:id/rules/:ruleId", h.get)
	r.PUT("/instances/:id/rules/:ruleId", h.update)
	r.DELETE("/instances/:id/rules/:ruleId", h.delete)
}

type ruleRequest struct {
	Trigger       string `json:"trigger" binding:"required"`
	Response      string `json:"response" binding:"required"`
	MatchMode     string `json:"matchMode"`
	CaseSensitive bool   `json:"caseSensitive"`
	Enabled       *bool  `json:"enabled"`
	Priority      int    `json:"priority"`
	Category      string `json:"category"`
	MaxUsesPerDay int    `json:"maxUsesPerDay"`
}

func (r ruleRequest) input() ruleSvc.Input {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return ruleSvc.Input{
		Trigger:       r.Trigger,
		Response:      r.Response,
		MatchMode:     r.MatchMode,
		CaseSensitive: r.CaseSensitive,
		Enabled:       enabled,
		Priority:      r.Priority,
		Category:      r.Category,
		MaxUsesPerDay: r.MaxUsesPerDay,
	}
}

func (h *RuleHandler) list(c *gin.Context) {
	rules, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, rules)
}

func (h *RuleHandler) create(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	created, err := h.service.Create(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		writeStorageError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, created)
}

func (h *RuleHandler) get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"), c.Param("ruleId"))
	if err != nil {
		writeStorageError(c, err)
		return
	}
	response.Success(c, http.StatusOK, r)
}

func (h *RuleHandler) update(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	updated, err := h.service.Update(c.Request.Context(), c.Param("id"), c.Param("ruleId"), req.input())
	if err != nil {
		writeStorageError(c, err)
		return
	}
	response.Success(c, http.StatusOK, updated)
}

func (h *RuleHandler) delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), c.Param("ruleId")); err != nil {
		writeStorageError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "regra removida"})
}
