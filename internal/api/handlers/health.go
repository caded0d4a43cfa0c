package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// QueueInspector is the part of *asynq.Inspector the health check uses.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

type HealthHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	inspector QueueInspector
	queue     string
}

// NewHealthHandler checks db and, when non-nil, redis and the task queue
// named queue.
func NewHealthHandler(db *gorm.DB, redis *redis.Client, inspector QueueInspector, queue string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, inspector: inspector, queue: queue}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Queue    *QueueStats       `json:"queue,omitempty"`
}

// QueueStats is the backlog of the task queue.
type QueueStats struct {
	Name     string `json:"name"`
	Pending  int    `json:"pending"`
	Active   int    `json:"active"`
	Retry    int    `json:"retry"`
	Archived int    `json:"archived"`
	Paused   bool   `json:"paused"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		services["database"] = "unhealthy"
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy"
			status = "unhealthy"
		} else {
			services["redis"] = "healthy"
		}
	}

	var stats *QueueStats
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(h.queue)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
			// nothing enqueued yet
			services["queue"] = "healthy"
		case err != nil:
			services["queue"] = "unhealthy"
			status = "unhealthy"
		default:
			services["queue"] = "healthy"
			stats = &QueueStats{
				Name:     h.queue,
				Pending:  info.Pending,
				Active:   info.Active,
				Retry:    info.Retry,
				Archived: info.Archived,
				Paused:   info.Paused,
			}
		}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, HealthResponse{
		Status:   status,
		Services: services,
		Queue:    stats,
	})
}

// Ready reports whether the process can serve traffic; it does not probe
// dependencies.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
