package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/MasterBuilder91/misyar-connect/logging"
	"github.com/MasterBuilder91/misyar-connect/store"
)

const minPasswordLen = 8

type ctxKey string

const callerKey ctxKey = "caller"

// caller is the authenticated user behind a request.
type caller struct {
	ID   string
	Role store.Role
}

func callerFrom(ctx context.Context) (caller, bool) {
	c, ok := ctx.Value(callerKey).(caller)
	return c, ok
}

// tokenClaims is the JWT payload issued on register and login.
type tokenClaims struct {
	UserID string     `json:"user_id"`
	Role   store.Role `json:"role"`
	jwt.RegisteredClaims
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *credentials) normalize() {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
}

func (a *app) issueToken(u *store.User) (string, error) {
	now := a.now()
	claims := tokenClaims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

func (a *app) parseToken(tokenStr string) (caller, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return caller{}, err
	}
	if !token.Valid || claims.UserID == "" {
		return caller{}, errors.New("invalid token claims")
	}
	return caller{ID: claims.UserID, Role: claims.Role}, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// callerFromRequest reads the bearer header, falling back to ?token= when
// allowQuery is set. Browsers cannot set headers on websocket upgrades.
func (a *app) callerFromRequest(r *http.Request, allowQuery bool) (caller, bool) {
	tokenStr := bearerToken(r)
	if tokenStr == "" && allowQuery {
		tokenStr = r.URL.Query().Get("token")
	}
	if tokenStr == "" {
		return caller{}, false
	}
	c, err := a.parseToken(tokenStr)
	if err != nil {
		return caller{}, false
	}
	return c, true
}

// POST /register
func registerHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}

		var req credentials
		if !decodeJSON(w, r, &req) {
			return
		}
		req.normalize()
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		if _, err := mail.ParseAddress(req.Email); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_email")
			return
		}
		if len(req.Password) < minPasswordLen {
			writeError(w, http.StatusBadRequest, "weak_password")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			logging.For(r.Context(), a.log).Error("hash password", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "hash_error")
			return
		}

		u, err := a.stores.Users.Create(r.Context(), req.Email, string(hash), store.RoleUser)
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "email_exists")
			return
		}
		if err != nil {
			a.writeStoreError(w, r, err, "register user")
			return
		}
		a.touchLastOnline(r.Context(), u.ID)

		tokenStr, err := a.issueToken(u)
		if err != nil {
			logging.For(r.Context(), a.log).Error("sign token", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		logging.For(r.Context(), a.log).Info("user registered", zap.String("user_id", u.ID))
		writeJSON(w, http.StatusCreated, map[string]interface{}{"token": tokenStr, "id": u.ID})
	}
}

// POST /login
func loginHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}

		var req credentials
		if !decodeJSON(w, r, &req) {
			return
		}
		req.normalize()
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		u, err := a.stores.Users.GetByEmail(r.Context(), req.Email)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		if err != nil {
			a.writeStoreError(w, r, err, "load user")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		a.touchLastOnline(r.Context(), u.ID)

		tokenStr, err := a.issueToken(u)
		if err != nil {
			logging.For(r.Context(), a.log).Error("sign token", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"token": tokenStr, "id": u.ID})
	}
}

// authenticate rejects requests without a valid bearer token and records the
// caller in the request context.
func (a *app) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := a.callerFromRequest(r, false)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, c)
		ctx = logging.WithUserID(ctx, c.ID)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin authenticates the request and then admits admins only.
func (a *app) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.authenticate(func(w http.ResponseWriter, r *http.Request) {
		c, _ := callerFrom(r.Context())
		if c.Role != store.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}
