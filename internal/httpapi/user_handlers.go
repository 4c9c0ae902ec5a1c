package httpapi

import (
	"net/http"
	"strings"
	"time"

	"autoaccess.org/internal/audit"
	"autoaccess.org/internal/directory"
)

type updateUserRequest struct {
	Name       *string `json:"name,omitempty"`
	Department *string `json:"department,omitempty"`
	Role       *string `json:"role,omitempty"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	accounts, err := a.store.List(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*directory.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": accounts})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/deactivate") {
		username := strings.TrimSuffix(strings.TrimSuffix(path, "/deactivate"), "/")
		if username == "" {
			writeError(w, r, http.StatusNotFound, "account not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.deactivateUser(w, r, username)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getUser(w, r, path)
	case http.MethodPatch:
		a.updateUser(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, username string) {
	acc, err := a.store.GetByUsername(r.Context(), username)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// updateUser applies a partial update. Department or role changes
// recompute groups, permissions, and OU from the role matrix; they are
// never writable directly.
func (a *API) updateUser(w http.ResponseWriter, r *http.Request, username string) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == nil && req.Department == nil && req.Role == nil {
		writeError(w, r, http.StatusBadRequest, "no updatable fields supplied")
		return
	}

	acc, err := a.store.GetByUsername(r.Context(), username)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, r, http.StatusBadRequest, "name must not be empty")
			return
		}
		acc.Name = name
	}
	if req.Department != nil {
		acc.Department = strings.TrimSpace(*req.Department)
	}
	if req.Role != nil {
		acc.Role = strings.TrimSpace(*req.Role)
	}

	access, err := a.matrix.Resolve(acc.Department, acc.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown department")
		return
	}
	acc.OU = access.OU
	acc.Groups = access.Groups
	acc.Permissions = access.Permissions
	acc.UpdatedAt = time.Now().UTC()

	if err := a.store.Update(r.Context(), acc); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionUpdateUser, acc.Username, map[string]string{
		"email":      acc.Email,
		"department": acc.Department,
		"role":       acc.Role,
		"via":        "admin_api",
	})
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request, username string) {
	acc, err := a.store.GetByUsername(r.Context(), username)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if acc.Status == directory.StatusInactive {
		writeJSON(w, http.StatusOK, acc)
		return
	}

	acc.Status = directory.StatusInactive
	acc.Groups = []string{}
	acc.Permissions = []string{}
	acc.UpdatedAt = time.Now().UTC()
	if err := a.store.Update(r.Context(), acc); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionDeactivateUser, acc.Username, map[string]string{
		"email": acc.Email,
		"via":   "admin_api",
	})
	if a.otp != nil {
		a.otp.EndSession(acc.Email)
	}
	writeJSON(w, http.StatusOK, acc)
}
