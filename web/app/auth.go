package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/narvanalabs/build-feed/web/api"
	"github.com/narvanalabs/build-feed/web/pages/auth"
)

// AuthCookie holds the API token of a signed-in browser.
const AuthCookie = "auth_token"

const cookieMaxAge = 86400 * 7

type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

func userFrom(ctx context.Context) *api.User {
	u, _ := ctx.Value(userKey).(*api.User)
	return u
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

func getAuthToken(r *http.Request) string {
	if cookie, err := r.Cookie(AuthCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func (a *App) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   cookieMaxAge,
	})
}

func clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// requireAuth checks the session token against the API. A rejected token is
// cleared and the browser sent to /login.
func (a *App) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := getAuthToken(r)
		if token == "" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		user, err := a.client.WithToken(token).GetUserProfile(r.Context())
		if err != nil {
			var apiErr *api.Error
			if errors.Is(err, api.ErrUnauthorized) || (errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound) {
				a.logger.Debug("session rejected", "error", err)
				clearAuthCookie(w)
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			a.logger.Error("failed to validate session", "error", err)
			http.Error(w, "builds service unavailable", http.StatusBadGateway)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if getAuthToken(r) != "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	a.render(w, r, http.StatusOK, auth.Login(auth.LoginData{}))
}

func (a *App) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.render(w, r, http.StatusBadRequest, auth.Login(auth.LoginData{Error: "Invalid form data"}))
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		a.render(w, r, http.StatusBadRequest, auth.Login(auth.LoginData{Email: email, Error: "Email and password are required"}))
		return
	}

	token, err := a.client.Login(r.Context(), email, password)
	if err != nil {
		status, msg := http.StatusBadGateway, "Unable to sign in right now"
		var apiErr *api.Error
		switch {
		case errors.Is(err, api.ErrUnauthorized):
			status, msg = http.StatusUnauthorized, "Invalid credentials"
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest:
			status, msg = http.StatusBadRequest, apiErr.Message
		default:
			a.logger.Error("login request failed", "error", err)
		}
		a.render(w, r, status, auth.Login(auth.LoginData{Email: email, Error: msg}))
		return
	}

	a.setAuthCookie(w, token)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	clearAuthCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}
