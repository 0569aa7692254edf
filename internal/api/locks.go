package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartlock-core/internal/auth"
	"github.com/nerrad567/smartlock-core/internal/liveness"
	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// registerLockRequest is the request body for POST /locks.
type registerLockRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

// reassignRequest is the request body for PUT /locks/{id}/owner.
type reassignRequest struct {
	OwnerID string `json:"owner_id"`
}

// lockStatusResponse is the response body for GET /locks/{id}/status.
type lockStatusResponse struct {
	DeviceID string     `json:"device_id"`
	Status   string     `json:"status"`
	State    string     `json:"state"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
	Issue    *string    `json:"issue"`
}

// commandResponse is the response body for lock and unlock commands.
type commandResponse struct {
	Message string         `json:"message"`
	Logged  bool           `json:"logged"`
	Entry   *locklog.Entry `json:"entry,omitempty"`
}

// handleRegisterLock registers a lock owned by the caller.
func (s *Server) handleRegisterLock(w http.ResponseWriter, r *http.Request) {
	var req registerLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	l, err := s.locks.Register(r.Context(), req.DeviceID, req.Name, claimsFrom(r.Context()).Subject)
	switch {
	case errors.Is(err, lock.ErrInvalidLock):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case errors.Is(err, lock.ErrLockExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device already registered")
		return
	case err != nil:
		s.logger.Error("lock registration failed", "device_id", req.DeviceID, "error", err)
		writeInternalError(w, "failed to register lock")
		return
	}

	writeJSON(w, http.StatusCreated, l)
}

// handleListLocks lists the caller's locks. Admins may pass ?all=true.
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var (
		locks []lock.Lock
		err   error
	)
	if claims.Role == auth.RoleAdmin && r.URL.Query().Get("all") == "true" {
		locks, err = s.locks.List(r.Context())
	} else {
		locks, err = s.locks.ListByOwner(r.Context(), claims.Subject)
	}
	if err != nil {
		s.logger.Error("listing locks failed", "error", err)
		writeInternalError(w, "failed to list locks")
		return
	}
	if locks == nil {
		locks = []lock.Lock{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"locks": locks,
		"count": len(locks),
	})
}

// handleLockStatus reports the lock's last status and its liveness-derived
// state, and writes that state back to the registry when it changed.
func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	l, ok := s.readableLock(w, r)
	if !ok {
		return
	}

	resp := lockStatusResponse{
		DeviceID: l.DeviceID,
		Status:   l.Status,
		State:    l.State,
		LastSeen: l.LastSeen,
		Issue:    l.Issue,
	}

	// A lock that has never reported keeps its registration state.
	if l.LastSeen != nil {
		now := s.now()
		resp.Online = s.tracker.IsOnline(l.DeviceID, now)
		resp.State = s.tracker.State(l.DeviceID, now)
		if resp.State != l.State {
			err := s.locks.SetState(r.Context(), l.DeviceID, resp.State, *l.LastSeen)
			switch {
			case errors.Is(err, lock.ErrStaleStatus):
				// A newer report landed after l was read; it owns the state.
			case err != nil:
				s.logger.Warn("state write-back failed", "device_id", l.DeviceID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLockLogs returns the most recent log entries for one lock.
func (s *Server) handleLockLogs(w http.ResponseWriter, r *http.Request) {
	l, ok := s.readableLock(w, r)
	if !ok {
		return
	}

	entries, err := s.logs.ListByDevice(r.Context(), l.DeviceID, queryLimit(r))
	if err != nil {
		s.logger.Error("listing lock logs failed", "device_id", l.DeviceID, "error", err)
		writeInternalError(w, "failed to list logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": l.DeviceID,
		"entries":   entries,
		"count":     len(entries),
	})
}

// handleUserLogs returns the commands the caller has issued.
func (s *Server) handleUserLogs(w http.ResponseWriter, r *http.Request) {
	userID := claimsFrom(r.Context()).Subject

	entries, err := s.logs.ListByUser(r.Context(), userID, queryLimit(r))
	if err != nil {
		s.logger.Error("listing user logs failed", "user_id", userID, "error", err)
		writeInternalError(w, "failed to list logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleReassignLock moves a lock to another existing user. Admin only.
func (s *Server) handleReassignLock(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "owner_id is required")
		return
	}

	if _, err := s.users.GetByID(r.Context(), req.OwnerID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "new owner not found")
			return
		}
		s.logger.Error("owner lookup failed", "owner_id", req.OwnerID, "error", err)
		writeInternalError(w, "failed to reassign lock")
		return
	}

	if err := s.locks.Reassign(r.Context(), deviceID, req.OwnerID); err != nil {
		if errors.Is(err, lock.ErrLockNotFound) {
			writeNotFound(w, "lock not found")
			return
		}
		s.logger.Error("reassign failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to reassign lock")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"device_id": deviceID,
		"owner_id":  req.OwnerID,
	})
}

func (s *Server) handleLockCommand(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, locklog.ActionLock)
}

func (s *Server) handleUnlockCommand(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, locklog.ActionUnlock)
}

// dispatch sends a guarded command for a lock the caller owns.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, action string) {
	deviceID := chi.URLParam(r, "id")
	userID := claimsFrom(r.Context()).Subject

	l, err := s.locks.Find(r.Context(), deviceID)
	if errors.Is(err, lock.ErrLockNotFound) || (err == nil && l.OwnerID != userID) {
		writeForbidden(w, "access denied to this lock")
		return
	}
	if err != nil {
		s.logger.Error("lock lookup failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to send command")
		return
	}

	entry, err := s.guard.Dispatch(r.Context(), liveness.Command{
		DeviceID: deviceID,
		Action:   action,
		UserID:   userID,
	}, s.now())
	switch {
	case err == nil:
	case writeCommandError(w, err):
		return
	case errors.Is(err, liveness.ErrLogWrite):
		// The command went out; only its log record is missing.
		writeJSON(w, http.StatusAccepted, commandResponse{
			Message: action + " command sent to " + deviceID,
		})
		return
	default:
		s.logger.Error("command dispatch failed", "device_id", deviceID, "action", action, "error", err)
		writeInternalError(w, "failed to send command")
		return
	}

	writeJSON(w, http.StatusAccepted, commandResponse{
		Message: action + " command sent to " + deviceID,
		Logged:  true,
		Entry:   entry,
	})
}

// readableLock loads the {id} lock if the caller owns it or is an admin.
// Locks the caller may not read are reported as not found.
func (s *Server) readableLock(w http.ResponseWriter, r *http.Request) (*lock.Lock, bool) {
	deviceID := chi.URLParam(r, "id")
	claims := claimsFrom(r.Context())

	l, err := s.locks.Find(r.Context(), deviceID)
	if errors.Is(err, lock.ErrLockNotFound) ||
		(err == nil && l.OwnerID != claims.Subject && claims.Role != auth.RoleAdmin) {
		writeNotFound(w, "lock not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("lock lookup failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to load lock")
		return nil, false
	}
	return l, true
}

// queryLimit parses ?limit=. Bounds are applied by the log store.
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
