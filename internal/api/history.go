package api

import (
	"log/slog"
	"net/http"
	"strconv"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/prediction"
)

// HealthResponse 是 /healthz 的响应体。
type HealthResponse struct {
	Status string           `json:"status"`
	Model  inference.Status `json:"model"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if s.history == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Prediction history is disabled.")
		return
	}

	query := r.URL.Query()
	opts := prediction.ListOptions{
		Label:  query.Get("label"),
		Source: query.Get("source"),
	}
	errs := map[string][]string{}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs["limit"] = []string{msgInvalidInteger}
		}
		opts.Limit = n
	}
	if !prediction.ValidLabel(opts.Label) {
		errs["label"] = []string{"Select a valid choice. " + opts.Label + " is not one of the available choices."}
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}

	records, err := s.history.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("查询预测记录失败", slog.Any("error", err))
		writeDetail(w, xerrors.HTTPStatusOf(err), xerrors.MessageOf(err))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if s.history == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Prediction history is disabled.")
		return
	}
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		s.logger.Error("统计预测记录失败", slog.Any("error", err))
		writeDetail(w, xerrors.HTTPStatusOf(err), xerrors.MessageOf(err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth 只要进程存活即返回 200，模型状态附带在响应中。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	resp := HealthResponse{Status: "ok"}
	if s.predictor != nil {
		resp.Model = s.predictor.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}
