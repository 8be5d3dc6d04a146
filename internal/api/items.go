package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ilisteam/ilis/internal/cache"
	"github.com/ilisteam/ilis/internal/lending"
	"github.com/ilisteam/ilis/internal/model"
	"github.com/ilisteam/ilis/internal/store"
)

// ItemsHandler handles item endpoints. List and Get are read-through cached;
// every write invalidates the item keys.
type ItemsHandler struct {
	DB      *sql.DB
	Lending *lending.Service
	Cache   *cache.Cache
}

type itemRequest struct {
	StorageID int64  `json:"storage_id"`
	NameRu    string `json:"name_ru"`
	NameEn    string `json:"name_en"`
	DescRu    string `json:"desc_ru"`
	DescEn    string `json:"desc_en"`
	Count     int    `json:"count"`
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	var storageID int64
	if v := r.URL.Query().Get("storage_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid storage_id")
			return
		}
		storageID = id
	}

	load := func() (any, error) {
		return store.ListItems(r.Context(), h.DB, storageID)
	}

	var result any
	var err error
	if h.Cache != nil {
		result, err = h.Cache.GetOrLoad(fmt.Sprintf("items:list:%d", storageID), load)
	} else {
		result, err = load()
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	items, _ := result.([]model.Item)
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// Create handles POST /api/items. The storage must belong to the caller.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StorageID <= 0 || req.NameRu == "" || req.NameEn == "" || req.Count < 1 {
		jsonError(w, http.StatusBadRequest, "storage_id, name_ru, name_en and a positive count are required")
		return
	}

	storage, err := store.GetStorage(r.Context(), h.DB, req.StorageID)
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

	item, err := store.CreateItem(r.Context(), h.DB, req.StorageID, req.NameRu, req.NameEn, req.DescRu, req.DescEn, req.Count)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.Cache != nil {
		h.Cache.InvalidatePrefix("items:")
	}

	slog.Info("item created", "item", item.NameEn, "storage", storage.Name, "count", item.Count)
	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}. The response includes the item's
// remaining (bookable) count.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	load := func() (any, error) {
		item, err := store.GetItem(r.Context(), h.DB, id)
		if err != nil || item == nil {
			return item, err
		}
		remaining, err := h.Lending.RemainingCount(r.Context(), id)
		if err != nil {
			return nil, err
		}
		item.RemainingCount = &remaining
		return item, nil
	}

	var result any
	if h.Cache != nil {
		result, err = h.Cache.GetOrLoad(fmt.Sprintf("items:get:%d", id), load)
	} else {
		result, err = load()
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return
	}

	item, _ := result.(*model.Item)
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}. Only the owner or an admin may update.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	claims := GetClaims(r.Context())
	if item.OwnerID != claims.UserID && claims.Role != model.RoleAdmin {
		jsonError(w, http.StatusForbidden, "not the item owner")
		return
	}

	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NameRu == "" || req.NameEn == "" || req.Count < 1 {
		jsonError(w, http.StatusBadRequest, "name_ru, name_en and a positive count are required")
		return
	}

	if err := store.UpdateItem(r.Context(), h.DB, id, req.NameRu, req.NameEn, req.DescRu, req.DescEn, req.Count); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.Cache != nil {
		h.Cache.InvalidatePrefix("items:")
	}

	updated, _ := store.GetItem(r.Context(), h.DB, id)
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/items/{id}. Only the owner or an admin may delete.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	claims := GetClaims(r.Context())
	if item.OwnerID != claims.UserID && claims.Role != model.RoleAdmin {
		jsonError(w, http.StatusForbidden, "not the item owner")
		return
	}

	if err := store.DeleteItem(r.Context(), h.DB, id); err != nil {
		if errors.Is(err, model.ErrDeletionNotAllowed) {
			domainError(w, err)
			return
		}
		jsonError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	if h.Cache != nil {
		h.Cache.InvalidatePrefix("items:")
		h.Cache.InvalidatePrefix("requests:")
	}

	slog.Info("item deleted", "item", item.NameEn, "by", claims.Username)
	jsonResponse(w, http.StatusNoContent, nil)
}
