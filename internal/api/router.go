package api

import (
	"database/sql"
	"net/http"

	"github.com/ilisteam/ilis/internal/cache"
	"github.com/ilisteam/ilis/internal/lending"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, jwtSecret string, lendingSvc *lending.Service, c *cache.Cache) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret, Clock: lendingSvc.Clock}
	usersHandler := &UsersHandler{DB: db}
	storagesHandler := &StoragesHandler{DB: db}
	itemsHandler := &ItemsHandler{DB: db, Lending: lendingSvc, Cache: c}
	requestsHandler := &RequestsHandler{DB: db, Lending: lendingSvc, Cache: c}

	authMW := AuthMiddleware(jwtSecret, db)

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users: self-service reads, admin management.
	mux.Handle("GET /api/users/me", authMW(http.HandlerFunc(usersHandler.Me)))
	mux.Handle("GET /api/users", authMW(RequireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(RequireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(RequireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(RequireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("DELETE /api/users/{id}", authMW(RequireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Storages: owners manage their own, admins everything.
	mux.Handle("GET /api/storages", authMW(http.HandlerFunc(storagesHandler.List)))
	mux.Handle("POST /api/storages", authMW(http.HandlerFunc(storagesHandler.Create)))
	mux.Handle("GET /api/storages/{id}", authMW(http.HandlerFunc(storagesHandler.Get)))
	mux.Handle("PUT /api/storages/{id}", authMW(http.HandlerFunc(storagesHandler.Update)))
	mux.Handle("DELETE /api/storages/{id}", authMW(http.HandlerFunc(storagesHandler.Delete)))

	// Items: readable by everyone authenticated, writable by the storage owner.
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("POST /api/items", authMW(http.HandlerFunc(itemsHandler.Create)))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Update)))
	mux.Handle("DELETE /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Delete)))

	// Rental requests.
	mux.Handle("POST /api/requests", authMW(http.HandlerFunc(requestsHandler.Create)))
	mux.Handle("GET /api/requests", authMW(RequireAdmin(http.HandlerFunc(requestsHandler.List))))
	mux.Handle("GET /api/requests/me", authMW(http.HandlerFunc(requestsHandler.Me)))
	mux.Handle("GET /api/requests/{id}", authMW(http.HandlerFunc(requestsHandler.Get)))
	mux.Handle("PUT /api/requests/{id}/status", authMW(http.HandlerFunc(requestsHandler.UpdateStatus)))
	mux.Handle("DELETE /api/requests/{id}", authMW(http.HandlerFunc(requestsHandler.Delete)))

	return mux
}
