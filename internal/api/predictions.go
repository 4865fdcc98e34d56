package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/dataset"
	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/prediction"
)

// 预测接口的错误信息。
const (
	msgInvalidVitals  = "Invalid input. Please provide numeric values for Temp_C, SpO2, and BPM."
	msgModelMissing   = "Model not found. Please train and save the model first."
	msgPredictionFail = "Prediction failed: "
)

// CompactResponse 是 /predictions/ 的响应体。
type CompactResponse struct {
	Prediction  string           `json:"prediction"`
	Probability float64          `json:"probability"`
	InputData   inference.Vitals `json:"input_data"`
}

func (s *Server) modelLoaded() bool {
	return s.predictor != nil && s.predictor.Status().Loaded
}

func (s *Server) modelNotLoadedMessage() string {
	name := "proposed_model.json.zst"
	if s.predictor != nil {
		if path := s.predictor.Status().Path; path != "" {
			name = filepath.Base(path)
		}
	}
	return fmt.Sprintf("ML model not loaded. Please ensure '%s' is in the project root.", name)
}

// handlePredict 处理详细预测请求。
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if !s.modelLoaded() {
		writeError(w, http.StatusServiceUnavailable, s.modelNotLoadedMessage())
		return
	}

	fields, err := readObject(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidVitals)
		return
	}
	vitals, err := vitalsFrom(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidVitals)
		return
	}

	result, err := s.predictor.Predict(r.Context(), vitals)
	if err != nil {
		switch xerrors.CodeOf(err) {
		case inference.CodeModelNotLoaded:
			writeError(w, http.StatusServiceUnavailable, s.modelNotLoadedMessage())
		case xerrors.CodeInvalidArgument:
			writeError(w, http.StatusBadRequest, msgInvalidVitals)
		default:
			s.writePredictionFailure(w, err)
		}
		return
	}
	s.afterPrediction(r, prediction.SourceDetailed, result)
	writeJSON(w, http.StatusOK, result)
}

// handleCompactPredict 处理精简预测请求，OPTIONS 仅返回 CORS 头。
func (s *Server) handleCompactPredict(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w, r, "POST, OPTIONS")
		return
	}
	if !s.modelLoaded() {
		writeError(w, http.StatusInternalServerError, msgModelMissing)
		return
	}

	fields, err := readObject(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data type: "+err.Error())
		return
	}
	var missing []string
	for _, name := range dataset.FeatureColumns {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
		return
	}
	vitals, err := vitalsFrom(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data type: "+err.Error())
		return
	}

	result, err := s.predictor.Predict(r.Context(), vitals)
	if err != nil {
		switch xerrors.CodeOf(err) {
		case inference.CodeModelNotLoaded:
			writeError(w, http.StatusInternalServerError, msgModelMissing)
		case xerrors.CodeInvalidArgument:
			writeError(w, http.StatusBadRequest, "Invalid data type: "+xerrors.MessageOf(err))
		default:
			s.writePredictionFailure(w, err)
		}
		return
	}
	s.afterPrediction(r, prediction.SourceCompact, result)
	writeJSON(w, http.StatusOK, CompactResponse{
		Prediction:  result.Label,
		Probability: result.AbnormalProbability,
		InputData:   result.Input,
	})
}

func (s *Server) writePredictionFailure(w http.ResponseWriter, err error) {
	s.logger.Error("预测失败", slog.Any("error", err))
	msg := xerrors.MessageOf(err)
	if !strings.HasPrefix(msg, msgPredictionFail) {
		msg = msgPredictionFail + msg
	}
	writeError(w, http.StatusInternalServerError, msg)
}

// afterPrediction 记录指标并投递历史记录，投递失败不影响响应。
func (s *Server) afterPrediction(r *http.Request, source string, result inference.Prediction) {
	s.metrics.ObservePrediction(source, result.Label)
	if s.recorder == nil {
		return
	}
	record, err := s.recorder.Record(r.Context(), source, result)
	if err != nil {
		s.logger.Warn("预测记录投递失败",
			slog.String("source", source),
			slog.String("request_id", r.Header.Get(RequestIDHeader)),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("severity", string(xerrors.SeverityOf(err))),
			slog.Any("error", err))
		return
	}
	s.logger.Debug("预测记录已投递", slog.String("record_id", record.ID), slog.String("source", source))
}

var errNotObject = errors.New("request body must be a JSON object")

// readObject 将请求体解析为字段到原始 JSON 的映射。
func readObject(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func vitalsFrom(fields map[string]json.RawMessage) (inference.Vitals, error) {
	var (
		v   inference.Vitals
		err error
	)
	if v.TempC, err = parseNumber(dataset.ColumnTempC, fields[dataset.ColumnTempC]); err != nil {
		return v, err
	}
	if v.SpO2, err = parseNumber(dataset.ColumnSpO2, fields[dataset.ColumnSpO2]); err != nil {
		return v, err
	}
	if v.BPM, err = parseNumber(dataset.ColumnBPM, fields[dataset.ColumnBPM]); err != nil {
		return v, err
	}
	return v, nil
}

// parseNumber 接受 JSON 数字或可解析为数字的字符串，结果必须是有限值。
func parseNumber(name string, raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%s must be a number, not null", name)
	}
	var (
		value float64
		err   error
	)
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		value, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert string to float: '%s'", s)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		value, err = strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return 0, fmt.Errorf("%s is out of range", name)
		}
	default:
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%s must be a finite number", name)
	}
	return value, nil
}
