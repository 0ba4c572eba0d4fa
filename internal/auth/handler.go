package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelvault/service/internal/response"
	"github.com/modelvault/service/internal/user"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "session"

// AccountDeleter removes an account together with everything it owns.
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, id int64) error
}

// Handler holds HTTP handlers for auth and account endpoints.
type Handler struct {
	svc          *Service
	accounts     AccountDeleter
	secureCookie bool
}

// NewHandler creates a new auth Handler. secureCookie marks the session
// cookie Secure and should be set in production.
func NewHandler(svc *Service, accounts AccountDeleter, secureCookie bool) *Handler {
	return &Handler{svc: svc, accounts: accounts, secureCookie: secureCookie}
}

type loginRequest struct {
	// Login is a username or an email address.
	Login    string `json:"username" example:"alice"`
	Password string `json:"password" example:"s3cret!"`
}

// Register godoc
//
//	@Summary		Register new user
//	@Description	Create an account and start a session. Username and email must be unique; the password needs at least 6 characters.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		RegisterInput	true	"Registration details"
//	@Success		201		{object}	response.Envelope{data=Session}
//	@Failure		400		{object}	response.Envelope
//	@Failure		409		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON data")
		return
	}

	sess, err := h.svc.Register(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserExists):
		response.Conflict(w, "Username or email already exists")
		return
	case isValidationError(err):
		response.BadRequest(w, sentence(err))
		return
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("register")
		response.InternalError(w)
		return
	}

	h.setSessionCookie(w, sess.Token, sess.ExpiresAt)
	response.Created(w, "Registration successful", sess)
}

// Login godoc
//
//	@Summary		Log in
//	@Description	Start a session with a username or email and password. The token is returned in the body and set as the session cookie.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		loginRequest	true	"Credentials"
//	@Success		200		{object}	response.Envelope{data=Session}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON data")
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Login, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, ErrMissingFields):
		response.BadRequest(w, "Please enter both username and password")
		return
	case errors.Is(err, ErrInvalidCredentials):
		response.Unauthorized(w, "Invalid username or password")
		return
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("login")
		response.InternalError(w)
		return
	}

	h.setSessionCookie(w, sess.Token, sess.ExpiresAt)
	response.OK(w, "Login successful", sess)
}

// Logout godoc
//
//	@Summary		Log out
//	@Description	Revoke the current session token and clear the session cookie.
//	@Tags			auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := TokenFromRequest(r); token != "" {
		if err := h.svc.Logout(r.Context(), token); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("logout")
			response.InternalError(w)
			return
		}
	}
	h.setSessionCookie(w, "", time.Unix(0, 0))
	response.OK(w, "Logged out", nil)
}

// GetMe godoc
//
//	@Summary		Get current user
//	@Description	Returns the profile of the currently authenticated user.
//	@Tags			users
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=user.User}
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/users/me [get]
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Me(r.Context(), IdentityFrom(r.Context()))
	switch {
	case err == nil:
		response.OK(w, "User retrieved successfully", u)
	case errors.Is(err, ErrUnauthenticated):
		response.Unauthorized(w, "Authentication required")
	case user.IsNotFound(err):
		response.NotFound(w, "User not found")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("get current user")
		response.InternalError(w)
	}
}

// DeleteMe godoc
//
//	@Summary		Delete account
//	@Description	Delete the current account, its objects and their stored files.
//	@Tags			users
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/users/me [delete]
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	id, err := RequireAuthenticated(r.Context())
	if err != nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), id.UserID); err != nil {
		if user.IsNotFound(err) {
			response.NotFound(w, "User not found")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Int64("user_id", id.UserID).Msg("delete account")
		response.InternalError(w)
		return
	}

	if token := TokenFromRequest(r); token != "" {
		if err := h.svc.Logout(r.Context(), token); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("revoke session of deleted account")
		}
	}
	h.setSessionCookie(w, "", time.Unix(0, 0))
	response.OK(w, "Account deleted successfully", nil)
}

// TokenFromRequest reads a Bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

func isValidationError(err error) bool {
	for _, target := range []error{
		ErrMissingFields, ErrInvalidEmail, ErrPasswordTooShort, ErrPasswordTooLong,
		ErrPasswordMismatch, ErrFieldTooLong, ErrInvalidUsername,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// sentence capitalises an error message for display.
func sentence(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
