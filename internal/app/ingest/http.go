package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tasksync/tasksync/internal/app/identity"
	"github.com/tasksync/tasksync/internal/app/query"
	"github.com/tasksync/tasksync/internal/contracts"
	platformauth "github.com/tasksync/tasksync/internal/platform/auth"
)

// QueryReader is the read-side surface the HTTP API exposes. Implemented by
// query.Repository; faked in tests.
type QueryReader interface {
	GetList(ctx context.Context, userID, listID string) (query.ListView, error)
	ListsForUser(ctx context.Context, userID string) ([]query.ListView, error)
	GetTask(ctx context.Context, userID, taskID string) (query.TaskView, error)
	TasksByList(ctx context.Context, userID, listID string, includeCompleted bool, cursor string, limit int) ([]query.TaskView, error)
	SmartViewTasks(ctx context.Context, userID string, view query.SmartView, dayStart, dayEnd int64, limit int) ([]query.TaskView, error)
	SearchTasks(ctx context.Context, userID, text, listID string, completed *bool, limit int) ([]query.TaskView, error)
	GetTag(ctx context.Context, userID, tagID string) (query.TagView, error)
	TagsForUser(ctx context.Context, userID string) ([]query.TagView, error)
}

type Handler struct {
	Service       *Service
	Identity      *identity.Service
	Queries       QueryReader
	AllowedOrigin string
}

func NewHandler(service *Service, identitySvc *identity.Service, queries QueryReader, allowedOrigin string) *Handler {
	return &Handler{
		Service:       service,
		Identity:      identitySvc,
		Queries:       queries,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/api/v1/auth/register", h.handleRegister)
	r.Post("/api/v1/auth/login", h.handleLogin)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Post("/api/v1/sync/batch", h.handleSyncBatch)

		authR.Get("/api/v1/lists", h.handleLists)
		authR.Get("/api/v1/lists/{listID}", h.handleGetList)
		authR.Get("/api/v1/lists/{listID}/tasks", h.handleListTasks)
		authR.Get("/api/v1/tasks/{taskID}", h.handleGetTask)
		authR.Get("/api/v1/views/{view}", h.handleSmartView)
		authR.Get("/api/v1/search", h.handleSearch)
		authR.Get("/api/v1/tags", h.handleTags)
		authR.Get("/api/v1/tags/{tagID}", h.handleGetTag)
	})

	return r
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Register(r.Context(), req.Username, req.Password, req.DeviceID)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, identity.ErrInvalidPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				h.writeError(w, http.StatusConflict, "username already exists")
				return
			}
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Username, req.Password, req.DeviceID)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSyncBatch(w http.ResponseWriter, r *http.Request) {
	var batch contracts.BatchInput
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	claims := claimsFromContext(r.Context())
	resp, err := h.Service.AcceptBatch(r.Context(), claims.Subject, claims.DeviceID, batch)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoEvents):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrDeviceMismatch):
			h.writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, ErrUserRequired):
			h.writeError(w, http.StatusUnauthorized, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handleLists(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	lists, err := h.Queries.ListsForUser(r.Context(), claims.Subject)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"lists": lists})
}

func (h *Handler) handleGetList(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	list, err := h.Queries.GetList(r.Context(), claims.Subject, chi.URLParam(r, "listID"))
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "list not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	q := r.URL.Query()
	includeCompleted := q.Get("includeCompleted") == "true"
	limit, _ := strconv.Atoi(q.Get("limit"))

	tasks, err := h.Queries.TasksByList(r.Context(), claims.Subject, chi.URLParam(r, "listID"),
		includeCompleted, q.Get("cursor"), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	task, err := h.Queries.GetTask(r.Context(), claims.Subject, chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleSmartView(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	q := r.URL.Query()
	dayStart, _ := strconv.ParseInt(q.Get("dayStart"), 10, 64)
	dayEnd, _ := strconv.ParseInt(q.Get("dayEnd"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))

	view := query.SmartView(chi.URLParam(r, "view"))
	if view == query.ViewToday && (dayStart <= 0 || dayEnd <= 0) {
		h.writeError(w, http.StatusBadRequest, "dayStart and dayEnd are required for the today view")
		return
	}

	tasks, err := h.Queries.SmartViewTasks(r.Context(), claims.Subject, view, dayStart, dayEnd, limit)
	if err != nil {
		if errors.Is(err, query.ErrUnknownView) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	q := r.URL.Query()

	var completed *bool
	if raw := q.Get("completed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "completed must be a boolean")
			return
		}
		completed = &v
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	tasks, err := h.Queries.SearchTasks(r.Context(), claims.Subject, q.Get("q"), q.Get("listId"), completed, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) handleTags(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	tags, err := h.Queries.TagsForUser(r.Context(), claims.Subject)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (h *Handler) handleGetTag(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	tag, err := h.Queries.GetTag(r.Context(), claims.Subject, chi.URLParam(r, "tagID"))
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "tag not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, tag)
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin())
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOrigin() string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" {
		return "*"
	}
	return allowed
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.AuthToken.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := contextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
