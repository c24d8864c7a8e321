package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storypath/engine/internal/auth"
)

const maxBody = 1 << 20

type ctxKey int

const ctxKeyClaims ctxKey = iota

type Handler struct {
	store    *Store
	verifier *auth.Verifier
	logger   *slog.Logger
}

// NewHandler serves store over HTTP. A nil verifier disables bearer
// token checks.
func NewHandler(logger *slog.Logger, store *Store, verifier *auth.Verifier) *Handler {
	return &Handler{store: store, verifier: verifier, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.verifier != nil {
		r.Use(h.authenticate)
	}
	r.Get("/{resource}", h.list)
	r.Post("/{resource}", h.create)
	r.Patch("/{resource}", h.update)
	r.Delete("/{resource}", h.remove)
	return r
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || token == "" {
			writeMessage(w, http.StatusUnauthorized, "PGRST301", "missing bearer token")
			return
		}
		claims, err := h.verifier.Verify(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "PGRST301", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) (auth.Claims, bool) {
	c, ok := r.Context().Value(ctxKeyClaims).(auth.Claims)
	return c, ok
}

func (h *Handler) resource(w http.ResponseWriter, r *http.Request, write bool) (*resource, query, bool) {
	name := chi.URLParam(r, "resource")
	res, ok := resources[name]
	if !ok {
		writeMessage(w, http.StatusNotFound, "42P01", "relation "+name+" does not exist")
		return nil, query{}, false
	}
	if write && res.readOnly {
		writeMessage(w, http.StatusMethodNotAllowed, "PGRST105", "relation "+name+" is read-only")
		return nil, query{}, false
	}
	q, err := parseQuery(res, r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return nil, query{}, false
	}
	return res, q, true
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	res, q, ok := h.resource(w, r, false)
	if !ok {
		return
	}
	rows, err := h.store.Select(r.Context(), res, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	res, _, ok := h.resource(w, r, true)
	if !ok {
		return
	}
	records, err := readRecords(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	defaults := map[string]any{}
	if claims, ok := claimsFrom(r); ok {
		if _, has := res.column("username"); has {
			defaults["username"] = claims.Username
		}
	}

	created, err := h.store.Insert(r.Context(), res, records, defaults)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Debug("records created", "resource", res.name, "count", len(created))
	respond(w, r, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	res, q, ok := h.resource(w, r, true)
	if !ok {
		return
	}
	if len(q.filters) == 0 {
		writeMessage(w, http.StatusBadRequest, "21000", "UPDATE requires a filter")
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&patch); err != nil {
		writeMessage(w, http.StatusBadRequest, "PGRST102", "invalid request body")
		return
	}
	updated, err := h.store.Update(r.Context(), res, q, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, updated)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	res, q, ok := h.resource(w, r, true)
	if !ok {
		return
	}
	if len(q.filters) == 0 {
		writeMessage(w, http.StatusBadRequest, "21000", "DELETE requires a filter")
		return
	}
	deleted, err := h.store.Delete(r.Context(), res, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, deleted)
}

// readRecords accepts a single JSON object or an array of objects.
func readRecords(r *http.Request) ([]map[string]any, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, badRequest("reading body: %v", err)
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, badRequest("invalid request body")
		}
		if len(records) == 0 {
			return nil, badRequest("empty request body")
		}
		return records, nil
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil || record == nil {
		return nil, badRequest("invalid request body")
	}
	return []map[string]any{record}, nil
}

// respond writes rows when the client asked for a representation.
func respond(w http.ResponseWriter, r *http.Request, status int, rows []Row) {
	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, status, rows)
		return
	}
	if status == http.StatusOK {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var se *Error
	if errors.As(err, &se) {
		writeMessage(w, se.Status, se.Code, se.Message)
		return
	}
	h.logger.Error("record store request failed",
		"method", r.Method, "path", r.URL.Path, "error", err)
	writeMessage(w, http.StatusInternalServerError, "XX000", "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}
