package profile

import (
	"errors"
	"net/http"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Handler struct {
	store Store
	log   *zap.SugaredLogger
}

func NewHandler(store Store, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{store: store, log: log}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/profiles", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/profiles/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/profiles/{id}", h.handlePut).Methods(http.MethodPut)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ps, err := h.store.List(r.Context())
	if err != nil {
		h.log.Errorf("list profiles: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	respondJSON(w, http.StatusOK, ps)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Errorf("get profile: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	var p Profile
	if err := gojson.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// 路径里的 id 为准
	p.ID = mux.Vars(r)["id"]
	p.Name = strings.TrimSpace(p.Name)
	saved, err := h.store.Put(r.Context(), p)
	if errors.Is(err, ErrInvalidProfile) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Errorf("save profile %s: %v", p.ID, err)
		respondError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	h.log.Infof("profile %s saved as %q", saved.ID, saved.Name)
	respondJSON(w, http.StatusOK, saved)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = gojson.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
