package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Handler exposes HTTP endpoints for the session flows.
type Handler struct {
	svc       *Service
	logger    *zap.SugaredLogger
	cookies   CookieConfig
	validator *validator.Validate
}

func NewHandler(svc *Service, logger *zap.SugaredLogger, cookies CookieConfig) *Handler {
	return &Handler{svc: svc, logger: logger, cookies: cookies, validator: newValidator()}
}

type messageResponse struct {
	Message string `json:"message"`
}

// LoginUser is the user projection returned by login.
type LoginUser struct {
	UserID string `json:"UserId"`
	Name   string `json:"name"`
}

// LoginResponse mirrors the token in the body for non-browser clients.
type LoginResponse struct {
	Data         LoginUser `json:"data"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
}

// RefreshResponse response body of the refresh endpoint.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, w, &req, false); err != nil {
		h.fail(w, "register", err)
		return
	}
	if err := h.validate(&req); err != nil {
		h.fail(w, "register", err)
		return
	}
	u, err := h.svc.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	h.logger.Infow("user registered", "user_id", u.ID)
	h.writeJSON(w, http.StatusCreated, messageResponse{Message: "User registered successfully"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, w, &req, false); err != nil {
		h.fail(w, "login", err)
		return
	}
	if err := h.validate(&req); err != nil {
		h.fail(w, "login", err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	h.cookies.set(w, res.AccessToken)
	h.writeJSON(w, http.StatusOK, LoginResponse{
		Data:         LoginUser{UserID: res.UserID, Name: res.Name},
		Token:        res.AccessToken,
		RefreshToken: res.RefreshToken,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decode(r, w, &req, true); err != nil {
		h.fail(w, "refresh", err)
		return
	}
	res, err := h.svc.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	h.writeJSON(w, http.StatusOK, RefreshResponse{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken})
}

// Logout always clears the cookie. When the caller proves who they are, via a
// valid access token or a stored refresh token, their refresh slot is cleared too.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if claims, err := h.svc.Authenticate(accessTokenFrom(r)); err == nil {
		if err := h.svc.Logout(ctx, claims.Subject); err != nil {
			h.logger.Errorw("logout: clear refresh token", "user_id", claims.Subject, "err", err)
		}
	}
	var req LogoutRequest
	if err := decode(r, w, &req, true); err == nil && req.RefreshToken != "" {
		if err := h.svc.LogoutByRefreshToken(ctx, req.RefreshToken); err != nil {
			h.logger.Errorw("logout: revoke refresh token", "err", err)
		}
	}
	h.cookies.clear(w)
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// Protected is the sample route behind RequireAccessToken.
func (h *Handler) Protected(w http.ResponseWriter, r *http.Request) {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		h.logger.Debugw("protected route", "user_id", c.Subject, "role", c.Role)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("This is a protected route"))
}

// statusFor maps session errors onto HTTP status and caller-visible message.
// Anything unrecognised is internal and gets a generic message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrDuplicateEmail):
		return http.StatusBadRequest, "Email already exists"
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound, "Email not found!"
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, "Incorrect password"
	case errors.Is(err, ErrMissingToken):
		return http.StatusForbidden, "Refresh Token is required!"
	case errors.Is(err, ErrInvalidRefreshToken):
		return http.StatusForbidden, "Refresh token is not valid"
	case errors.Is(err, ErrTokenVerification):
		return http.StatusForbidden, "Refresh token is expired or invalid"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw(op+" failed", "err", err)
	} else {
		h.logger.Debugw(op+" rejected", "status", status, "err", err)
	}
	h.writeJSON(w, status, messageResponse{Message: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
