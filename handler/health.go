package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

// StatusChecker reports whether a backing store can serve requests.
type StatusChecker func(ctx context.Context) error

type HealthHandler struct {
	check StatusChecker
	log   *otelzap.SugaredLogger
}

func NewHealthHandler(check StatusChecker, log *otelzap.SugaredLogger) *HealthHandler {
	return &HealthHandler{
		check: check,
		log:   log,
	}
}

// Readiness checks the store is ready to take requests.
func (hh HealthHandler) Readiness(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	status := "ok"
	statusCode := http.StatusOK
	if hh.check != nil {
		if err := hh.check(ctx); err != nil {
			hh.log.Ctx(ctx).Errorw("Readiness", "error", err.Error())
			status = "store not ready"
			statusCode = http.StatusInternalServerError
		}
	}

	respond(ctx, rw, statusCode, map[string]string{"status": status})
}
