package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/phbpx/leadboard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// envelope is the body of every lead mutation response. Failures always carry
// a message; intake failures repeat it under error.
type envelope struct {
	Success bool            `json:"success"`
	Lead    *leadboard.Lead `json:"lead,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

func decode(r *http.Request, into interface{}) error {
	rawJson, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(rawJson, into)
}

func respond(ctx context.Context, rw http.ResponseWriter, status int, data interface{}) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "handler.respond")
	span.SetAttributes(attribute.Int("http.status", status))
	defer span.End()

	if status == http.StatusNoContent || data == nil {
		rw.WriteHeader(status)
		return
	}

	rawJson, err := json.Marshal(data)
	if err != nil {
		panic("respond-json-marshal:" + err.Error())
	}

	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(rawJson)
}

func respondLead(ctx context.Context, rw http.ResponseWriter, lead leadboard.Lead) {
	respond(ctx, rw, http.StatusOK, envelope{Success: true, Lead: &lead})
}

func respondErr(ctx context.Context, rw http.ResponseWriter, status int, msg string) {
	respond(ctx, rw, status, envelope{Message: msg})
}
