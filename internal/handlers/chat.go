package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pliu/murmur/internal/middleware"
	"github.com/pliu/murmur/internal/models"
	"github.com/pliu/murmur/internal/protocol"
	"github.com/pliu/murmur/internal/relay"
	"github.com/pliu/murmur/internal/store"
)

type ChatHandler struct {
	Store        store.Store
	Relay        *relay.Relay
	Notifier     Notifier
	StoreTimeout time.Duration
	Log          zerolog.Logger
}

type CreateGroupRequest struct {
	Name    string  `json:"name"`
	Members []int64 `json:"members"`
}

type AddMemberRequest struct {
	Username string `json:"username"`
}

func (h *ChatHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.StoreTimeout)
}

// GetDirectMessages returns the conversation between the caller and the
// user in the path, oldest first.
func (h *ChatHandler) GetDirectMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	otherID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	messages, err := h.Relay.History(r.Context(), userID, otherID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "Group name is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	for _, id := range req.Members {
		if _, err := h.Store.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				http.Error(w, "Unknown member", http.StatusBadRequest)
				return
			}
			writeError(w, err)
			return
		}
	}

	groupID, err := h.Store.CreateGroupWithMembers(ctx, req.Name, userID, req.Members)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to create group")
		writeError(w, err)
		return
	}

	notified := map[int64]bool{userID: true}
	for _, id := range req.Members {
		if !notified[id] {
			notified[id] = true
			h.Notifier.Notify(id, protocol.GroupAdded{GroupID: groupID, Name: req.Name})
		}
	}

	writeJSON(w, http.StatusCreated, models.Group{ID: groupID, Name: req.Name, OwnerID: userID})
}

func (h *ChatHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)

	ctx, cancel := h.ctx(r)
	defer cancel()
	groups, err := h.Store.GetUserGroups(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// AddMember adds a user, by username, to a group the caller belongs to.
func (h *ChatHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	groupID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid group id", http.StatusBadRequest)
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	if !h.requireMember(ctx, w, groupID, userID) {
		return
	}

	user, err := h.Store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}

	already, err := h.Store.IsMember(ctx, groupID, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if already {
		http.Error(w, "Already a member", http.StatusConflict)
		return
	}
	if err := h.Store.AddMember(ctx, groupID, user.ID); err != nil {
		writeError(w, err)
		return
	}

	var name string
	if groups, err := h.Store.GetUserGroups(ctx, user.ID); err == nil {
		for _, g := range groups {
			if g.ID == groupID {
				name = g.Name
			}
		}
	}
	h.Notifier.Notify(user.ID, protocol.GroupAdded{GroupID: groupID, Name: name})

	w.WriteHeader(http.StatusOK)
}

func (h *ChatHandler) GetGroupMembers(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	groupID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid group id", http.StatusBadRequest)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	if !h.requireMember(ctx, w, groupID, userID) {
		return
	}

	members, err := h.Store.GetGroupMembers(ctx, groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *ChatHandler) GetGroupMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	groupID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid group id", http.StatusBadRequest)
		return
	}

	messages, err := h.Relay.GroupHistory(r.Context(), userID, groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) requireMember(ctx context.Context, w http.ResponseWriter, groupID, userID int64) bool {
	member, err := h.Store.IsMember(ctx, groupID, userID)
	if err != nil {
		writeError(w, err)
		return false
	}
	if !member {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}
