package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/osscampus/contrib-board/internal/githubapi"
	"github.com/osscampus/contrib-board/internal/leaderboard"
	"github.com/osscampus/contrib-board/internal/store"
)

const maxRequestBodyBytes = 1 << 20

func (r *Runtime) handleLeaderboard(w http.ResponseWriter, req *http.Request) {
	entries, err := r.backend.Leaderboard(req.Context())
	if err != nil {
		r.logger.Error("load leaderboard", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

func (r *Runtime) handleListContributions(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	filter := store.ContributionFilter{
		Repository: query.Get("repository"),
		Status:     store.Status(query.Get("status")),
		Page:       parseIntParam(query.Get("page")),
		PerPage:    parseIntParam(query.Get("per_page")),
	}
	switch filter.Status {
	case "", store.StatusOpen, store.StatusClosed, store.StatusMerged:
	default:
		writeError(w, http.StatusBadRequest, "status must be open, closed, or merged")
		return
	}

	contributions, total, err := r.backend.ListContributions(req.Context(), filter)
	if err != nil {
		r.logger.Error("list contributions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list contributions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contributions": contributions,
		"total":         total,
	})
}

func (r *Runtime) handleRepoStats(w http.ResponseWriter, req *http.Request) {
	repository := chi.URLParam(req, "owner") + "/" + chi.URLParam(req, "repo")
	stats, err := r.backend.RepoStats(req.Context(), repository)
	if err != nil {
		r.logger.Error("aggregate repo stats", zap.String("repository", repository), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to aggregate repository stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type syncRequest struct {
	Repository string `json:"repository"`
}

func (r *Runtime) handleAdminSync(w http.ResponseWriter, req *http.Request) {
	var payload syncRequest
	if err := decodeJSONBody(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON with a repository field")
		return
	}
	if payload.Repository == "" {
		writeError(w, http.StatusBadRequest, "repository is required")
		return
	}

	summary, err := r.SyncRepository(req.Context(), payload.Repository)
	if err != nil {
		r.writeSyncError(w, payload.Repository, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (r *Runtime) writeSyncError(w http.ResponseWriter, repository string, err error) {
	var upstreamErr *githubapi.UpstreamError
	switch {
	case errors.Is(err, githubapi.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid repository reference %q", repository))
	case errors.Is(err, ErrGitHubCooldown):
		writeError(w, http.StatusServiceUnavailable, "github upstream unavailable, retry later")
	case errors.Is(err, leaderboard.ErrRebuildInProgress):
		writeError(w, http.StatusConflict, "leaderboard rebuild already in progress")
	case errors.As(err, &upstreamErr):
		r.logger.Warn("sync failed upstream",
			zap.String("repository", repository),
			zap.Int("status", upstreamErr.StatusCode),
		)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("github api responded with status %d", upstreamErr.StatusCode))
	default:
		r.logger.Error("sync failed", zap.String("repository", repository), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sync failed")
	}
}

func (r *Runtime) handleAdminRebuild(w http.ResponseWriter, req *http.Request) {
	size, err := r.Rebuild(req.Context())
	if err != nil {
		if errors.Is(err, leaderboard.ErrRebuildInProgress) {
			writeError(w, http.StatusConflict, "leaderboard rebuild already in progress")
			return
		}
		r.logger.Error("rebuild failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard_size": size})
}

func (r *Runtime) handleAdminWipe(w http.ResponseWriter, req *http.Request) {
	if err := r.backend.WipeContributions(req.Context()); err != nil {
		r.logger.Error("wipe contributions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to wipe contributions")
		return
	}
	r.logger.Info("contributions wiped by admin request")
	writeJSON(w, http.StatusOK, map[string]any{"status": "wiped"})
}

type createStudentRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	AvatarURL        string `json:"avatar_url"`
	GitHubProfileURL string `json:"github_profile_url"`
}

func (r *Runtime) handleCreateStudent(w http.ResponseWriter, req *http.Request) {
	var payload createStudentRequest
	if err := decodeJSONBody(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON")
		return
	}
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	created, err := r.backend.CreateStudent(req.Context(), store.Student{
		Name:             payload.Name,
		Email:            payload.Email,
		AvatarURL:        payload.AvatarURL,
		GitHubProfileURL: payload.GitHubProfileURL,
	})
	if err != nil {
		r.logger.Error("create student", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create student")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Runtime) handleListStudents(w http.ResponseWriter, req *http.Request) {
	records, err := r.backend.ListStudents(req.Context())
	if err != nil {
		r.logger.Error("list students", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list students")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"students": records,
		"total":    len(records),
	})
}

func decodeJSONBody(req *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, req.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func parseIntParam(raw string) int {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
