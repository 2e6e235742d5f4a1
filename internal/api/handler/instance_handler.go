package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/pkg/response"
	instanceSvc "github.com/open-apime/autoreply/internal/service/instance"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

type StateReader interface {
	GetState(ctx context.Context, instanceID string) (model.ConnectionState, error)
}

type StateChecker interface {
	Check(ctx context.Context, instanceID string) (model.AuthState, error)
}

type InstanceHandler struct {
	service  *instanceSvc.Service
	tracker  StateReader
	checker  StateChecker
	eventLog storage.EventLogRepository
	log      *zap.Logger
}

func NewInstanceHandler(service *instanceSvc.Service, tracker StateReader, checker StateChecker, eventLog storage.EventLogRepository, log *zap.Logger) *InstanceHandler {
	return &InstanceHandler{
		service:  service,
		tracker:  tracker,
		checker:  checker,
		eventLog: eventLog,
		log:      log,
	}
}

func (h *InstanceHandler) Register(r *gin.RouterGroup) {
	r.GET("/instances", h.list)
	r.GET("/instances/:id", h.get)
	r.POST("/instances", h.create)
	r.PUT("/instances/:id", h.update)
	r.DELETE("/instances/:id", h.delete)
	r.GET("/instances/:id/state", h.state)
	r.POST("/instances/:id/state/refresh", h.refreshState)
	r.GET("/instances/:id/events", h.events)
}

type createInstanceRequest struct {
	ID              string               `json:"idInstance" binding:"required"`
	Name            string               `json:"name" binding:"required,min=2"`
	APIURL          string               `json:"apiUrl"`
	APIToken        string               `json:"apiTokenInstance" binding:"required"`
	WebhookToken    string               `json:"webhookToken"`
	MinSendInterval string               `json:"minSendInterval"`
	MaxRetries      int                  `json:"maxRetries"`
	BackoffBase     string               `json:"backoffBase"`
	BusinessHours   *model.BusinessHours `json:"businessHours"`
	SenderCooldown  string               `json:"senderCooldown"`
}

type updateInstanceRequest struct {
	Name            string               `json:"name" binding:"required,min=2"`
	APIURL          string               `json:"apiUrl"`
	APIToken        string               `json:"apiTokenInstance"`
	WebhookToken    *string              `json:"webhookToken"`
	MinSendInterval string               `json:"minSendInterval"`
	MaxRetries      int                  `json:"maxRetries"`
	BackoffBase     string               `json:"backoffBase"`
	BusinessHours   *model.BusinessHours `json:"businessHours"`
	SenderCooldown  string               `json:"senderCooldown"`
}

func (h *InstanceHandler) create(c *gin.Context) {
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	minInterval, err := parseDuration(req.MinSendInterval)
	if err != nil {
		response.ErrorWithMessage(c, http.StatusBadRequest, "minSendInterval inválido")
		return
	}
	backoff, err := parseDuration(req.BackoffBase)
	if err != nil {
		response.ErrorWithMessage(c, http.StatusBadRequest, "backoffBase inválido")
		return
	}
	cooldown, err := parseDuration(req.SenderCooldown)
	if err != nil {
		response.ErrorWithMessage(c, http.StatusBadRequest, "senderCooldown inválido")
		return
	}

	inst, err := h.service.Create(c.Request.Context(), instanceSvc.CreateInput{
		ID:              req.ID,
		Name:            req.Name,
		APIURL:          req.APIURL,
		APIToken:        req.APIToken,
		WebhookToken:    req.WebhookToken,
		MinSendInterval: minInterval,
		MaxRetries:      req.MaxRetries,
		BackoffBase:     backoff,
		BusinessHours:   req.BusinessHours,
		SenderCooldown:  cooldown,
	})
	if err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}
	h.log.Info("instância cadastrada", zap.String("instance_id", inst.ID))
	response.Success(c, http.StatusCreated, inst)
}

func (h *InstanceHandler) list(c *gin.Context) {
	instances, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	if instances == nil {
		instances = []model.Instance{}
	}
	response.Success(c, http.StatusOK, instances)
}

func (h *InstanceHandler) get(c *gin.Context) {
	inst, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStorageError(c, err)
		return
	}
	response.Success(c, http.StatusOK, inst)
}

func (h *InstanceHandler) update(c *gin.Context) {
	var req updateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	minInterval, err := parseDuration(req.MinSendInterval)
	if err != nil {
		response.ErrorWithMessage(c, http.StatusBadRequest, "minSendInterval inválido")
		return
	}
	backoff, err := parseDuration(req.BackoffBase)
	if err != nil {
		response.ErrorWithMessage(c, http.StatusBadRequest, "backoffBase inválido")
		return
	}
	cooldown, err := parseDuration(req.SenderCooldown)
	if err != nil {
		response.ErrorWithMessage(c, http.StatusBadRequest, "senderCooldown inválido")
		return
	}

	inst, err := h.service.Update(c.Request.Context(), c.Param("id"), instanceSvc.UpdateInput{
		Name:            req.Name,
		APIURL:          req.APIURL,
		APIToken:        req.APIToken,
		WebhookToken:    req.WebhookToken,
		MinSendInterval: minInterval,
		MaxRetries:      req.MaxRetries,
		BackoffBase:     backoff,
		BusinessHours:   req.BusinessHours,
		SenderCooldown:  cooldown,
	})
	if err != nil {
		writeStorageError(c, err)
		return
	}
	response.Success(c, http.StatusOK, inst)
}

func (h *InstanceHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		writeStorageError(c, err)
		return
	}
	h.log.Info("instância removida", zap.String("instance_id", id))
	response.Success(c, http.StatusOK, gin.H{"message": "instância removida"})
}

func (h *InstanceHandler) state(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.service.Get(c.Request.Context(), id); err != nil {
		writeStorageError(c, err)
		return
	}
	st, err := h.tracker.GetState(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}

func (h *InstanceHandler) refreshState(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.service.Get(c.Request.Context(), id); err != nil {
		writeStorageError(c, err)
		return
	}
	state, err := h.checker.Check(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusBadGateway, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"authState": state})
}

func (h *InstanceHandler) events(c *gin.Context) {
	logs, err := h.eventLog.ListByInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	if logs == nil {
		logs = []model.EventLog{}
	}
	response.Success(c, http.StatusOK, logs)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func writeStorageError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		response.ErrorWithMessage(c, http.StatusNotFound, "não encontrado")
		return
	}
	response.Error(c, http.StatusBadRequest, err)
}
