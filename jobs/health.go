package jobs

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/horsemanagement/stablegate/internal/platform/httpx"
)

type queueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

type queueHealth struct {
	Queue    string `json:"queue"`
	Enabled  bool   `json:"enabled"`
	Paused   bool   `json:"paused,omitempty"`
	Pending  int    `json:"pending"`
	Active   int    `json:"active"`
	Retry    int    `json:"retry"`
	Archived int    `json:"archived"`
}

// Handler reports the audit queue backlog.
type Handler struct {
	inspector queueInspector
	logger    *slog.Logger
}

// NewHandler reports on inspector's queues; a nil inspector means the audit
// queue is off.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger}
	if inspector != nil {
		h.inspector = inspector
	}
	return h
}

// MountRoutes attaches the job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueAudit})
		return
	}
	// asynq registers a queue on its first enqueue, so a fresh deployment
	// has an empty audit queue rather than a missing one.
	queues, err := h.inspector.Queues()
	if err == nil && !slices.Contains(queues, QueueAudit) {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueAudit, Enabled: true})
		return
	}
	var info *asynq.QueueInfo
	if err == nil {
		info, err = h.inspector.GetQueueInfo(QueueAudit)
	}
	if errors.Is(err, asynq.ErrQueueNotFound) {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueAudit, Enabled: true})
		return
	}
	if err != nil {
		h.logger.Warn("audit queue inspection", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "audit queue cannot be inspected")
		return
	}
	httpx.JSON(w, http.StatusOK, queueHealth{
		Queue:    info.Queue,
		Enabled:  true,
		Paused:   info.Paused,
		Pending:  info.Pending,
		Active:   info.Active,
		Retry:    info.Retry,
		Archived: info.Archived,
	})
}
