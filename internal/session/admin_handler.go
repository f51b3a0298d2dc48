package session

import (
	"net/http"

	"github.com/2beens/fixfit/internal/middleware"
	"github.com/2beens/fixfit/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type ListSessionsResponse struct {
	Sessions []Info `json:"sessions"`
	Total    int    `json:"total"`
}

type DeleteSessionResponse struct {
	DeletedID string `json:"deletedId"`
}

type AdminHandler struct {
	service *Service
}

func NewAdminHandler(service *Service) *AdminHandler {
	return &AdminHandler{
		service: service,
	}
}

func (h *AdminHandler) SetupRoutes(mainRouter *mux.Router, adminAuth *middleware.AdminAuth) {
	adminRouter := mainRouter.PathPrefix("/api/v1/admin").Subrouter()
	adminRouter.HandleFunc("/sessions", h.HandleList).Methods("GET", "OPTIONS").Name("admin-list-sessions")
	adminRouter.HandleFunc("/sessions/{id}", h.HandleDelete).Methods("DELETE", "OPTIONS").Name("admin-delete-session")
	adminRouter.Use(adminAuth.Check())
}

func (h *AdminHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	sessions := h.service.List()
	pkg.WriteJSON(w, ListSessionsResponse{
		Sessions: sessions,
		Total:    len(sessions),
	}, http.StatusOK)
}

func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, "error, id empty", http.StatusBadRequest)
		return
	}

	if !h.service.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	log.Infof("admin: session [%s] deleted", id)
	pkg.WriteJSON(w, DeleteSessionResponse{DeletedID: id}, http.StatusOK)
}
