package auth

import (
	"net/http"

	"github.com/gorilla/mux"

	"shepherd/internal/permission"
)

// RouteOptions: дополнительные middleware для публичных маршрутов.
type RouteOptions struct {
	LoginLimit mux.MiddlewareFunc // /login
	ResetLimit mux.MiddlewareFunc // /forgot-password, /reset-password
}

func passthrough(next http.Handler) http.Handler { return next }

// RegisterRoutes вешает /api/auth/* и /api/admins/* на роутер.
func RegisterRoutes(r *mux.Router, h *Handler, g *Gate, opts RouteOptions) {
	loginLimit, resetLimit := opts.LoginLimit, opts.ResetLimit
	if loginLimit == nil {
		loginLimit = passthrough
	}
	if resetLimit == nil {
		resetLimit = passthrough
	}

	// Все маршруты /api/auth на одном subrouter: неверный метод на известном пути даёт 405.
	api := r.PathPrefix("/api/auth").Subrouter()
	authed := func(fn http.HandlerFunc) http.Handler { return g.Authenticate(fn) }

	// 1) Публичные: вход, ротация, сброс пароля
	api.Handle("/login", loginLimit(http.HandlerFunc(h.Login))).Methods(http.MethodPost)
	api.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	api.Handle("/forgot-password", resetLimit(http.HandlerFunc(h.ForgotPassword))).Methods(http.MethodPost)
	api.Handle("/reset-password", resetLimit(http.HandlerFunc(h.ResetPassword))).Methods(http.MethodPost)
	api.Handle("/session", g.Optional(http.HandlerFunc(h.Session))).Methods(http.MethodGet)

	// 2) Требуют access-токен
	api.Handle("/verify", authed(h.Verify)).Methods(http.MethodGet)
	api.Handle("/logout", authed(h.Logout)).Methods(http.MethodPost)
	api.Handle("/me", authed(h.Me)).Methods(http.MethodGet)
	api.Handle("/permissions", authed(h.Permissions)).Methods(http.MethodGet)
	api.Handle("/request-profile-update", authed(h.RequestProfileUpdate)).Methods(http.MethodPost)
	api.Handle("/profile", authed(h.UpdateProfile)).Methods(http.MethodPut)
	api.Handle("/verify-profile-token", authed(h.VerifyProfileToken)).Methods(http.MethodPost)
	api.Handle("/request-password-change", authed(h.RequestPasswordChange)).Methods(http.MethodPost)
	api.Handle("/change-password", authed(h.ChangePassword)).Methods(http.MethodPut)
	api.Handle("/verify-password-token", authed(h.VerifyPasswordToken)).Methods(http.MethodPost)

	// 3) Управление учётными записями
	admins := r.PathPrefix("/api/admins").Subrouter()
	admins.Use(g.Authenticate)
	admins.Handle("/{id}", g.RequirePermission(permission.ManageAdmins)(http.HandlerFunc(h.GetAdmin))).
		Methods(http.MethodGet)
	admins.Handle("/{id}/sessions", g.RequireSuperAdmin(http.HandlerFunc(h.RevokeSessions))).
		Methods(http.MethodDelete)
	admins.Handle("/{id}/unlock", g.RequireSuperAdmin(http.HandlerFunc(h.Unlock))).
		Methods(http.MethodPost)
}
