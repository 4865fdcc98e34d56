package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/profile"
)

const (
	msgInvalidInteger  = "A valid integer is required."
	msgInvalidDatetime = "Datetime has wrong format. Use RFC 3339."
	maxBodyBytes       = 1 << 20
)

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListProfiles(w, r)
	case http.MethodPost:
		s.handleCreateProfile(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	opts, fieldErrs := parseProfileQuery(r)
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, fieldErrs)
		return
	}
	profiles, err := s.profiles.List(r.Context(), opts...)
	if err != nil {
		s.writeProfileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func parseProfileQuery(r *http.Request) ([]profile.ListOption, map[string][]string) {
	query := r.URL.Query()
	errs := map[string][]string{}
	var opts []profile.ListOption

	if raw := query.Get("search"); raw != "" {
		opts = append(opts, profile.WithQuery(raw))
	}
	for _, name := range []string{"limit", "offset"} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs[name] = []string{msgInvalidInteger}
			continue
		}
		if name == "limit" {
			opts = append(opts, profile.WithLimit(n))
		} else {
			opts = append(opts, profile.WithOffset(n))
		}
	}
	for _, name := range []string{"created_after", "created_before"} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			errs[name] = []string{msgInvalidDatetime}
			continue
		}
		if name == "created_after" {
			opts = append(opts, profile.WithCreatedAfter(ts))
		} else {
			opts = append(opts, profile.WithCreatedBefore(ts))
		}
	}
	return opts, errs
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeProfileInput(w, r)
	if !ok {
		return
	}
	created, err := s.profiles.Create(r.Context(), in)
	if err != nil {
		s.writeProfileError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleProfileDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := profile.ParseID(r.PathValue("id"))
	if !ok {
		writeDetail(w, http.StatusNotFound, profile.MsgNotFound)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		p, err := s.profiles.Get(ctx, id)
		if err != nil {
			s.writeProfileError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut, http.MethodPatch:
		in, ok := decodeProfileInput(w, r)
		if !ok {
			return
		}
		var (
			p   *profile.Profile
			err error
		)
		if r.Method == http.MethodPut {
			p, err = s.profiles.Update(ctx, id, in)
		} else {
			p, err = s.profiles.Patch(ctx, id, in)
		}
		if err != nil {
			s.writeProfileError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := s.profiles.Delete(ctx, id); err != nil {
			s.writeProfileError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PUT, PATCH, DELETE")
	}
}

// decodeProfileInput 解析请求体，失败时已写入响应。
func decodeProfileInput(w http.ResponseWriter, r *http.Request) (profile.Input, bool) {
	var in profile.Input
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error - "+err.Error())
		return profile.Input{}, false
	}
	return in, true
}

func (s *Server) writeProfileError(w http.ResponseWriter, err error) {
	var verr *profile.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr.Fields)
	case errors.Is(err, profile.ErrNotFound):
		writeDetail(w, http.StatusNotFound, profile.MsgNotFound)
	default:
		status := xerrors.HTTPStatusOf(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("档案请求失败", slog.Any("error", err), slog.String("code", string(xerrors.CodeOf(err))))
		}
		writeDetail(w, status, strings.TrimSpace(xerrors.MessageOf(err)))
	}
}
