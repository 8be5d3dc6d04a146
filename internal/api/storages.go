package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ilisteam/ilis/internal/model"
	"github.com/ilisteam/ilis/internal/store"
)

// StoragesHandler handles storage endpoints.
type StoragesHandler struct {
	DB *sql.DB
}

type storageRequest struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// List handles GET /api/storages.
func (h *StoragesHandler) List(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = id
	}

	storages, err := store.ListStorages(r.Context(), h.DB, userID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list storages")
		return
	}
	if storages == nil {
		storages = []model.Storage{}
	}
	jsonResponse(w, http.StatusOK, storages)
}

// Create handles POST /api/storages. The storage is created for the caller.
func (h *StoragesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req storageRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Address == "" {
		jsonError(w, http.StatusBadRequest, "name and address required")
		return
	}

	claims := GetClaims(r.Context())
	storage, err := store.CreateStorage(r.Context(), h.DB, claims.UserID, req.Name, req.Latitude, req.Longitude, req.Address)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to create storage")
		return
	}

	slog.Info("storage created", "storage", storage.Name, "owner", claims.Username)
	jsonResponse(w, http.StatusCreated, storage)
}

// Get handles GET /api/storages/{id}.
func (h *StoragesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid storage id")
		return
	}

	storage, err := store.GetStorage(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get storage")
		return
	}
	if storage == nil {
		jsonError(w, http.StatusNotFound, "storage not found")
		return
	}
	jsonResponse(w, http.StatusOK, storage)
}

// Update handles PUT /api/storages/{id}. Only the owner or an admin may update.
func (h *StoragesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid storage id")
		return
	}

	storage, err := store.GetStorage(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get storage")
		return
	}
	if storage == nil {
		jsonError(w, http.StatusNotFound, "storage not found")
		return
	}

	claims := GetClaims(r.Context())
	if storage.UserID != claims.UserID && claims.Role != model.RoleAdmin {
		jsonError(w, http.StatusForbidden, "not the storage owner")
		return
	}

	var req storageRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Address == "" {
		jsonError(w, http.StatusBadRequest, "name and address required")
		return
	}

	if err := store.UpdateStorage(r.Context(), h.DB, id, req.Name, req.Latitude, req.Longitude, req.Address); err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to update storage")
		return
	}

	updated, _ := store.GetStorage(r.Context(), h.DB, id)
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/storages/{id}. Only the owner or an admin may delete.
func (h *StoragesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid storage id")
		return
	}

	storage, err := store.GetStorage(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get storage")
		return
	}
	if storage == nil {
		jsonError(w, http.StatusNotFound, "storage not found")
		return
	}

	claims := GetClaims(r.Context())
	if storage.UserID != claims.UserID && claims.Role != model.RoleAdmin {
		jsonError(w, http.StatusForbidden, "not the storage owner")
		return
	}

	if err := store.DeleteStorage(r.Context(), h.DB, id); err != nil {
		if errors.Is(err, model.ErrDeletionNotAllowed) {
			domainError(w, err)
			return
		}
		jsonError(w, http.StatusInternalServerError, "failed to delete storage")
		return
	}

	slog.Info("storage deleted", "storage", storage.Name, "by", claims.Username)
	jsonResponse(w, http.StatusNoContent, nil)
}
