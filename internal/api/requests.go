package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ilisteam/ilis/internal/cache"
	"github.com/ilisteam/ilis/internal/lending"
	"github.com/ilisteam/ilis/internal/model"
	"github.com/ilisteam/ilis/internal/store"
)

// RequestsHandler handles rental request endpoints. All lifecycle mutations
// go through the lending service; plain reads go to the store.
type RequestsHandler struct {
	DB      *sql.DB
	Lending *lending.Service
	Cache   *cache.Cache
}

type createRequestRequest struct {
	ItemID       int64     `json:"item_id"`
	UserID       int64     `json:"user_id,omitempty"` // admin only, defaults to caller
	Count        int       `json:"count"`
	RentStartsAt time.Time `json:"rent_starts_at"`
	RentEndsAt   time.Time `json:"rent_ends_at"`
}

type updateStatusRequest struct {
	Status model.Status `json:"status"`
}

// ownerContact is the item owner's info attached to a requester's own
// request. Contact details are exposed only while the request is in lending.
type ownerContact struct {
	ID      int64  `json:"id"`
	Name    string `json:"name,omitempty"`
	Surname string `json:"surname,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type ownRequestResponse struct {
	model.Request
	Owner *ownerContact `json:"owner,omitempty"`
}

// Create handles POST /api/requests.
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ItemID <= 0 || req.Count < 1 || req.RentStartsAt.IsZero() || req.RentEndsAt.IsZero() {
		jsonError(w, http.StatusBadRequest, "item_id, a positive count, rent_starts_at and rent_ends_at are required")
		return
	}

	claims := GetClaims(r.Context())
	userID := claims.UserID
	if req.UserID > 0 && req.UserID != claims.UserID {
		if claims.Role != model.RoleAdmin {
			jsonError(w, http.StatusForbidden, "only admins may create requests for other users")
			return
		}
		userID = req.UserID
	}

	request, err := h.Lending.CreateRequest(r.Context(), req.ItemID, userID, req.Count, req.RentStartsAt, req.RentEndsAt)
	if err != nil {
		domainError(w, err)
		return
	}

	slog.Info("request created", "request", request.ID, "item", request.ItemNameEn,
		"user", request.Username, "count", request.Count)
	jsonResponse(w, http.StatusCreated, request)
}

// List handles GET /api/requests (admin only).
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	var itemID, userID int64
	var status model.Status

	if v := r.URL.Query().Get("item_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid item_id")
			return
		}
		itemID = id
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		userID = id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status = model.Status(v)
		if !status.Valid() {
			jsonError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	requests, err := store.ListRequests(r.Context(), h.DB, itemID, userID, status)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if requests == nil {
		requests = []model.Request{}
	}
	jsonResponse(w, http.StatusOK, requests)
}

// Me handles GET /api/requests/me: the caller's own requests with the item
// owner attached.
func (h *RequestsHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	load := func() (any, error) {
		requests, err := store.ListRequests(r.Context(), h.DB, 0, claims.UserID, "")
		if err != nil {
			return nil, err
		}

		result := make([]ownRequestResponse, 0, len(requests))
		for _, req := range requests {
			resp := ownRequestResponse{Request: req}

			item, err := store.GetItem(r.Context(), h.DB, req.ItemID)
			if err != nil {
				return nil, err
			}
			if item != nil {
				owner, err := store.GetUser(r.Context(), h.DB, item.OwnerID)
				if err != nil {
					return nil, err
				}
				if owner != nil {
					contact := &ownerContact{ID: owner.ID, Name: owner.Name, Surname: owner.Surname}
					if req.InLending() {
						contact.Email = owner.Email
						contact.Phone = owner.Phone
					}
					resp.Owner = contact
				}
			}
			result = append(result, resp)
		}
		return result, nil
	}

	var result any
	var err error
	if h.Cache != nil {
		result, err = h.Cache.GetOrLoad(fmt.Sprintf("requests:me:%d", claims.UserID), load)
	} else {
		result, err = load()
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}

	requests, _ := result.([]ownRequestResponse)
	if requests == nil {
		requests = []ownRequestResponse{}
	}
	jsonResponse(w, http.StatusOK, requests)
}

// Get handles GET /api/requests/{id}. Visible to the requester, the item
// owner, and admins.
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	request, err := store.GetRequest(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get request")
		return
	}
	if request == nil {
		jsonError(w, http.StatusNotFound, "request not found")
		return
	}

	claims := GetClaims(r.Context())
	if !h.mayAccess(r, request, claims.UserID) && claims.Role != model.RoleAdmin {
		jsonError(w, http.StatusForbidden, "not your request")
		return
	}
	jsonResponse(w, http.StatusOK, request)
}

// UpdateStatus handles PUT /api/requests/{id}/status. The requester may only
// cancel; the item owner drives the rest of the lifecycle; admins may do
// either.
func (h *RequestsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}

	request, err := store.GetRequest(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get request")
		return
	}
	if request == nil {
		jsonError(w, http.StatusNotFound, "request not found")
		return
	}

	claims := GetClaims(r.Context())
	if claims.Role != model.RoleAdmin {
		switch {
		case request.UserID == claims.UserID:
			if req.Status != model.StatusCanceled {
				jsonError(w, http.StatusForbidden, "requesters may only cancel their requests")
				return
			}
		case h.ownsItem(r, request.ItemID, claims.UserID):
			if req.Status == model.StatusCanceled {
				jsonError(w, http.StatusForbidden, "only the requester may cancel")
				return
			}
		default:
			jsonError(w, http.StatusForbidden, "not your request")
			return
		}
	}

	updated, err := h.Lending.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		domainError(w, err)
		return
	}

	slog.Info("request status updated", "request", updated.ID, "status", updated.Status, "by", claims.Username)
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/requests/{id}.
func (h *RequestsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	request, err := store.GetRequest(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get request")
		return
	}
	if request == nil {
		jsonError(w, http.StatusNotFound, "request not found")
		return
	}

	claims := GetClaims(r.Context())
	if request.UserID != claims.UserID && claims.Role != model.RoleAdmin {
		jsonError(w, http.StatusForbidden, "not your request")
		return
	}

	if err := h.Lending.DeleteRequest(r.Context(), id); err != nil {
		domainError(w, err)
		return
	}

	slog.Info("request deleted", "request", id, "by", claims.Username)
	jsonResponse(w, http.StatusNoContent, nil)
}

// mayAccess reports whether the user is the requester or the item owner.
func (h *RequestsHandler) mayAccess(r *http.Request, request *model.Request, userID int64) bool {
	if request.UserID == userID {
		return true
	}
	return h.ownsItem(r, request.ItemID, userID)
}

func (h *RequestsHandler) ownsItem(r *http.Request, itemID, userID int64) bool {
	item, err := store.GetItem(r.Context(), h.DB, itemID)
	if err != nil || item == nil {
		return false
	}
	return item.OwnerID == userID
}
