package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/coaching-marketplace/internal/application"
)

type sweepRunner interface {
	RunOnce(ctx context.Context) (application.SweepReport, error)
}

// SweepHandler exposes the deadline sweeper to operators. The scheduled
// sweeper binary drives the same RunOnce; this endpoint exists for
// manual runs and smoke checks.
type SweepHandler struct {
	runner    sweepRunner
	responder responder
	logger    *slog.Logger
}

func NewSweepHandler(runner sweepRunner, logger *slog.Logger) *SweepHandler {
	base := defaultLogger(logger)
	return &SweepHandler{runner: runner, responder: newResponder(base), logger: base}
}

func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.runner == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	logger := handlerLogger(r.Context(), h.logger, "SweepHandler", "Run")

	report, err := h.runner.RunOnce(r.Context())
	if err != nil {
		// A partial pass still carries a usable report; surface both.
		logger.ErrorContext(r.Context(), "sweep pass finished with errors", "error", err)
		h.responder.writeJSON(r.Context(), w, http.StatusInternalServerError, sweepResponse{
			Report:  toSweepReportDTO(report),
			Message: "the sweep pass finished with errors, inspect the server log",
		})
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, sweepResponse{Report: toSweepReportDTO(report)})
}

type sweepResponse struct {
	Report  sweepReportDTO `json:"report"`
	Message string         `json:"message,omitempty"`
}

type sweepReportDTO struct {
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
	Released  int `json:"released"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func toSweepReportDTO(report application.SweepReport) sweepReportDTO {
	return sweepReportDTO{
		Expired:   report.Expired,
		Cancelled: report.Cancelled,
		Released:  report.Released,
		Completed: report.Completed,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	}
}
