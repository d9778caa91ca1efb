package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/murmur/internal/auth"
	"github.com/pliu/murmur/internal/middleware"
	"github.com/pliu/murmur/internal/models"
	"github.com/pliu/murmur/internal/presence"
	"github.com/pliu/murmur/internal/store"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type AuthHandler struct {
	Store        store.UserDirectory
	Tokens       *auth.JWT
	Presence     *presence.Broadcaster
	Sessions     SessionCloser
	StoreTimeout time.Duration
	Log          zerolog.Logger
}

func (h *AuthHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.StoreTimeout)
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "Username, email and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	if _, err := h.Store.GetUserByUsername(ctx, req.Username); err == nil {
		http.Error(w, "Username already exists", http.StatusConflict)
		return
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashedPassword),
	}
	if err := h.Store.CreateUser(ctx, user); err != nil {
		h.Log.Warn().Err(err).Str("username", req.Username).Msg("signup failed")
		http.Error(w, "Username already exists", http.StatusConflict)
		return
	}

	h.Log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user signed up")
	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	user, err := h.Store.GetUserByUsername(ctx, creds.Username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			writeError(w, err)
			return
		}
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.Tokens.Sign(user.ID)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to sign token")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Online is not set here: a user is online only while a session is
	// registered.
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

// Users returns every other directory user, with online derived from the
// connection registry.
func (h *AuthHandler) Users(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)

	snap, err := h.Presence.Snapshot(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to build roster")
		writeError(w, err)
		return
	}

	users := snap.All[:0]
	for _, u := range snap.All {
		if u.ID != userID {
			users = append(users, u)
		}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *AuthHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	users, err := h.Store.SearchUsers(ctx, query, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Presence.Roster(users))
}

// Me returns the caller's own record.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)

	ctx, cancel := h.ctx(r)
	defer cancel()
	user, err := h.Store.GetUserByID(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	user.Online = h.Presence.IsOnline(user.ID)
	writeJSON(w, http.StatusOK, user)
}

// Logout ends the caller's live session; presence follows from the
// registry. Tokens are stateless, so the client discards its own.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	disconnected := h.Sessions.Disconnect(userID)
	h.Log.Info().Int64("user_id", userID).Bool("had_session", disconnected).Msg("user logged out")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
