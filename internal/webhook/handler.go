package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/open-apime/autoreply/internal/metrics"
	"github.com/open-apime/autoreply/internal/pkg/queue"
	"github.com/open-apime/autoreply/internal/pkg/response"
	"github.com/open-apime/autoreply/internal/storage"
	"github.com/open-apime/autoreply/internal/storage/model"
)

const maxBodySize = 1 << 20

type TokenVerifier interface {
	VerifyWebhookToken(ctx context.Context, instanceID, token string) (bool, error)
}

type StateSetter interface {
	SetAuthState(ctx context.Context, instanceID string, state model.AuthState) error
}

// Handler recebe os webhooks do provedor. Mensagens vão para a fila e são
// processadas pela Pool; mudanças de estado são aplicadas na hora.
type Handler struct {
	queue    queue.Queue
	verifier TokenVerifier
	tracker  StateSetter
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewHandler(q queue.Queue, verifier TokenVerifier, tracker StateSetter, m *metrics.Metrics, log *zap.Logger) *Handler {
	return &Handler{
		queue:    q,
		verifier: verifier,
		tracker:  tracker,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/webhook/:instanceId", h.receive)
}

func (h *Handler) receive(c *gin.Context) {
	ctx := c.Request.Context()
	instanceID := c.Param("instanceId")

	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	ok, err := h.verifier.VerifyWebhookToken(ctx, instanceID, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.ErrorWithMessage(c, http.StatusNotFound, "instância não encontrada")
			return
		}
		h.log.Error("webhook: erro ao validar token", zap.String("instance_id", instanceID), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		response.ErrorWithMessage(c, http.StatusUnauthorized, "token inválido")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	n, err := Decode(body, instanceID, h.now())
	if err != nil {
		h.log.Warn("webhook: payload recusado", zap.String("instance_id", instanceID), zap.Error(err))
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	switch n.Kind {
	case KindState:
		if err := h.tracker.SetAuthState(ctx, instanceID, n.State); err != nil {
			response.Error(c, http.StatusInternalServerError, err)
			return
		}

	case KindMessage:
		event := queue.Event{
			ID:         uuid.NewString(),
			Message:    n.Event,
			EnqueuedAt: h.now().UTC(),
		}
		if err := h.queue.Enqueue(ctx, event); err != nil {
			h.metrics.QueueRejected()
			h.log.Error("webhook: erro ao enfileirar",
				zap.String("instance_id", instanceID),
				zap.String("message_id", n.Event.MessageID),
				zap.Error(err),
			)
			response.ErrorWithMessage(c, http.StatusServiceUnavailable, "fila indisponível")
			return
		}
		h.log.Debug("webhook: mensagem enfileirada",
			zap.String("instance_id", instanceID),
			zap.String("message_id", n.Event.MessageID),
			zap.String("eventId", event.ID),
		)

	default:
		h.log.Debug("webhook: evento ignorado",
			zap.String("instance_id", instanceID),
			zap.String("type", n.Type),
			zap.String("reason", n.Reason),
		)
	}

	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}
