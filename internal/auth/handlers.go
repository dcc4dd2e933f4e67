package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"shepherd/internal/models"
	"shepherd/internal/permission"
)

// Handler: HTTP-обработчики /api/auth и /api/admins.
type Handler struct {
	svc *Service
	dev bool
}

func NewHandler(svc *Service, dev bool) *Handler { return &Handler{svc: svc, dev: dev} }

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, err, h.dev)
}

// caller: Gate уже положил учётную запись в контекст; без неё маршрут не должен был сработать.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	acc, ok := AccountFromContext(r.Context())
	if !ok {
		h.fail(w, r, ErrAuthRequired)
		return nil, false
	}
	return acc, true
}

type sessionView struct {
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	Account      models.AccountView `json:"account"`
}

func viewSession(s *Session) sessionView {
	return sessionView{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, Account: s.Account.View()}
}

type accountPayload struct {
	Account models.AccountView `json:"account"`
}

type expiryPayload struct {
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if errs := decode(r, &req); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	if errs := req.validate(); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Login successful", viewSession(sess))
}

// Refresh: токен берётся из Authorization, иначе из тела.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		var req refreshRequest
		if errs := decode(r, &req); errs != nil {
			models.WriteValidation(w, errs)
			return
		}
		token = req.RefreshToken
	}
	sess, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Token refreshed", viewSession(sess))
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Token is valid", struct {
		Valid   bool               `json:"valid"`
		Account models.AccountView `json:"account"`
	}{Valid: true, Account: acc.View()})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.Logout(r.Context(), acc.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Logged out", nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Account loaded", accountPayload{Account: acc.View()})
}

func (h *Handler) RequestProfileUpdate(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req purposeRequest
	if errs := decode(r, &req); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	if errs := req.validate(); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	purpose := models.TokenPurpose(req.Type)
	exp, err := h.svc.RequestProfileUpdate(r.Context(), acc.ID, purpose)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Verification code sent to your email",
		expiryPayload{Type: string(purpose), ExpiresAt: exp})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if errs := decode(r, &req); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	if errs := req.validate(); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	updated, err := h.svc.UpdateProfile(r.Context(), acc.ID, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Profile updated", accountPayload{Account: updated.View()})
}

func (h *Handler) VerifyProfileToken(w http.ResponseWriter, r *http.Request) {
	h.verifyToken(w, r, h.svc.VerifyProfileToken)
}

func (h *Handler) VerifyPasswordToken(w http.ResponseWriter, r *http.Request) {
	h.verifyToken(w, r, h.svc.VerifyPasswordToken)
}

func (h *Handler) verifyToken(w http.ResponseWriter, r *http.Request, verify func(ctx context.Context, id, token string) (TokenCheck, error)) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req tokenRequest
	if errs := decode(r, &req); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	check, err := verify(r.Context(), acc.ID, req.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := "Token is valid"
	if !check.Valid {
		msg = "Token is not valid"
	}
	models.WriteSuccess(w, http.StatusOK, msg, check)
}

func (h *Handler) RequestPasswordChange(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req passwordChangeRequest
	if errs := decode(r, &req); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	if errs := req.validate(); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	exp, err := h.svc.RequestPasswordChange(r.Context(), acc.ID, req.CurrentPassword)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Verification code sent to your email",
		expiryPayload{Type: string(TypePassword), ExpiresAt: exp})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if errs := decode(r, &req); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	if errs := req.validate(); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	err := h.svc.ChangePassword(r.Context(), acc.ID, ChangePasswordInput{
		Token:           req.Token,
		NewPassword:     req.NewPassword,
		CurrentPassword: req.CurrentPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Password changed, please log in again", nil)
}

// ForgotPassword отвечает одинаково при любом исходе.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if errs := decode(r, &req); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	if errs := req.validate(); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	_ = h.svc.ForgotPassword(r.Context(), req.Email)
	models.WriteSuccess(w, http.StatusOK, "If the email is registered, a reset link has been sent", nil)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if errs := decode(r, &req); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	if errs := req.validate(); errs != nil {
		models.WriteValidation(w, errs)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.ID, req.Token, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Password has been reset, please log in", nil)
}

// Session: маршрут с необязательной аутентификацией.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Authenticated bool                `json:"authenticated"`
		Account       *models.AccountView `json:"account,omitempty"`
	}{}
	if acc, ok := AccountFromContext(r.Context()); ok {
		v := acc.View()
		payload.Authenticated = true
		payload.Account = &v
	}
	models.WriteSuccess(w, http.StatusOK, "Session state", payload)
}

func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	acc, ok := h.caller(w, r)
	if !ok {
		return
	}
	effective := acc.EffectivePermissions()
	if effective == nil {
		effective = []permission.Tag{}
	}
	models.WriteSuccess(w, http.StatusOK, "Permissions loaded", struct {
		Permissions []permission.Tag   `json:"permissions"`
		Catalog     []permission.Entry `json:"catalog"`
	}{Permissions: effective, Catalog: permission.Catalog()})
}

func (h *Handler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.Account(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Account loaded", accountPayload{Account: acc.View()})
}

func (h *Handler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.RevokeSessions(r.Context(), actor.ID, mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Session revoked", nil)
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.svc.Unlock(r.Context(), actor.ID, mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	models.WriteSuccess(w, http.StatusOK, "Account unlocked", nil)
}
