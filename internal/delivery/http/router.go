package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"synopsis/pkg/utils"
)

// Router handles HTTP routing
type Router struct {
	handler   *Handler
	websocket http.Handler
}

// NewRouter creates a new HTTP router. websocket may be nil, in which case
// /ws is not served.
func NewRouter(handler *Handler, websocket http.Handler) *Router {
	return &Router{
		handler:   handler,
		websocket: websocket,
	}
}

// Setup sets up the HTTP routes
func (r *Router) Setup() http.Handler {
	// Encoded paths keep %2F inside a document name from splitting the route.
	router := mux.NewRouter().UseEncodedPath()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/documents", r.handler.ListDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents/{name}", r.handler.GetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{name}/patches", r.handler.GetPatches).Methods(http.MethodGet)

	router.HandleFunc("/healthz", r.handler.Health).Methods(http.MethodGet)
	if r.websocket != nil {
		router.Handle("/ws", r.websocket).Methods(http.MethodGet)
	}

	return ApplyMiddleware(router, RecoveryMiddleware, LoggingMiddleware, utils.RequestIDMiddleware)
}
