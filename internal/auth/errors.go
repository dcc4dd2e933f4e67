package auth

import (
	"errors"
	"net/http"
)

// Code: закрытый набор кодов ошибок ядра авторизации.
type Code int

const (
	CodeNoToken Code = iota + 1
	CodeInvalidTokenFormat
	CodeTokenExpired
	CodeInvalidToken
	CodeTokenVerificationFailed
	CodeInvalidTokenPayload
	CodeAdminNotFound
	CodeAccountInactive
	CodeInvalidCredentials
	CodeInvalidRefreshToken
	CodeAuthRequired
	CodeInsufficientPermissions
	CodeSuperAdminRequired
	CodeTokenRequired
	CodeNoStoredToken
	CodeTokenMismatch
	CodeVerificationExpired
	CodeWrongTokenType
	CodeSamePassword
	CodeEmailAlreadyInUse
	CodeInvalidCurrentPassword
	CodeInvalidResetToken
	CodeEmailDeliveryFailed
	CodeAuthError
	CodePermissionCheckError
)

type codeInfo struct {
	wire    string
	status  int
	message string
}

var codes = map[Code]codeInfo{
	CodeNoToken:                 {"NO_TOKEN", http.StatusUnauthorized, "Access token is required"},
	CodeInvalidTokenFormat:      {"INVALID_TOKEN_FORMAT", http.StatusUnauthorized, "Token format is invalid"},
	CodeTokenExpired:            {"TOKEN_EXPIRED", http.StatusUnauthorized, "Token has expired"},
	CodeInvalidToken:            {"INVALID_TOKEN", http.StatusUnauthorized, "Token is invalid"},
	CodeTokenVerificationFailed: {"TOKEN_VERIFICATION_FAILED", http.StatusUnauthorized, "Token verification failed"},
	CodeInvalidTokenPayload:     {"INVALID_TOKEN_PAYLOAD", http.StatusUnauthorized, "Token payload is invalid"},
	CodeAdminNotFound:           {"ADMIN_NOT_FOUND", http.StatusUnauthorized, "Admin account not found"},
	CodeAccountInactive:         {"ACCOUNT_INACTIVE", http.StatusUnauthorized, "Account is deactivated"},
	CodeInvalidCredentials:      {"INVALID_CREDENTIALS", http.StatusUnauthorized, "Invalid email or password"},
	CodeInvalidRefreshToken:     {"INVALID_REFRESH_TOKEN", http.StatusUnauthorized, "Refresh token is invalid"},
	CodeAuthRequired:            {"AUTH_REQUIRED", http.StatusUnauthorized, "Authentication required"},
	CodeInsufficientPermissions: {"INSUFFICIENT_PERMISSIONS", http.StatusForbidden, "Insufficient permissions"},
	CodeSuperAdminRequired:      {"SUPER_ADMIN_REQUIRED", http.StatusForbidden, "Super admin access required"},
	CodeTokenRequired:           {"TOKEN_REQUIRED", http.StatusBadRequest, "Verification token is required"},
	CodeNoStoredToken:           {"NO_STORED_TOKEN", http.StatusBadRequest, "No verification token requested"},
	CodeTokenMismatch:           {"TOKEN_MISMATCH", http.StatusBadRequest, "Verification token does not match"},
	CodeVerificationExpired:     {"TOKEN_EXPIRED", http.StatusBadRequest, "Verification token has expired"},
	CodeWrongTokenType:          {"WRONG_TOKEN_TYPE", http.StatusBadRequest, "Verification token was issued for another operation"},
	CodeSamePassword:            {"SAME_PASSWORD", http.StatusBadRequest, "New password must differ from the current one"},
	CodeEmailAlreadyInUse:       {"EMAIL_ALREADY_IN_USE", http.StatusBadRequest, "Email is already in use"},
	CodeInvalidCurrentPassword:  {"INVALID_CURRENT_PASSWORD", http.StatusBadRequest, "Current password is incorrect"},
	CodeInvalidResetToken:       {"INVALID_RESET_TOKEN", http.StatusBadRequest, "Reset link is invalid or has expired"},
	CodeEmailDeliveryFailed:     {"EMAIL_DELIVERY_FAILED", http.StatusBadGateway, "Verification email could not be sent, request a new one"},
	CodeAuthError:               {"AUTH_ERROR", http.StatusInternalServerError, "Authentication error"},
	CodePermissionCheckError:    {"PERMISSION_CHECK_ERROR", http.StatusInternalServerError, "Permission check failed"},
}

// Wire: стабильная строка кода для клиента.
func (c Code) Wire() string { return codes[c].wire }

func (c Code) Status() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func (c Code) Message() string { return codes[c].message }

func (c Code) String() string { return c.Wire() }

// Error: ошибка ядра с кодом. Err хранит внутреннюю причину и наружу не отдаётся.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	if e.Err != nil {
		return e.Code.Wire() + ": " + msg + ": " + e.Err.Error()
	}
	return e.Code.Wire() + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает только код, поэтому errors.Is(err, ErrTokenMismatch) работает для любой обёртки.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// PublicMessage: текст для клиента.
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func newError(code Code, cause error) *Error { return &Error{Code: code, Err: cause} }

// CodeOf возвращает код ошибки ядра или false, если err не *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

var (
	ErrNoToken                 = &Error{Code: CodeNoToken}
	ErrInvalidTokenFormat      = &Error{Code: CodeInvalidTokenFormat}
	ErrTokenExpired            = &Error{Code: CodeTokenExpired}
	ErrInvalidToken            = &Error{Code: CodeInvalidToken}
	ErrTokenVerificationFailed = &Error{Code: CodeTokenVerificationFailed}
	ErrInvalidTokenPayload     = &Error{Code: CodeInvalidTokenPayload}
	ErrAdminNotFound           = &Error{Code: CodeAdminNotFound}
	ErrAccountInactive         = &Error{Code: CodeAccountInactive}
	ErrInvalidCredentials      = &Error{Code: CodeInvalidCredentials}
	ErrInvalidRefreshToken     = &Error{Code: CodeInvalidRefreshToken}
	ErrAuthRequired            = &Error{Code: CodeAuthRequired}
	ErrInsufficientPermissions = &Error{Code: CodeInsufficientPermissions}
	ErrSuperAdminRequired      = &Error{Code: CodeSuperAdminRequired}
	ErrTokenRequired           = &Error{Code: CodeTokenRequired}
	ErrNoStoredToken           = &Error{Code: CodeNoStoredToken}
	ErrTokenMismatch           = &Error{Code: CodeTokenMismatch}
	ErrVerificationExpired     = &Error{Code: CodeVerificationExpired}
	ErrWrongTokenType          = &Error{Code: CodeWrongTokenType}
	ErrSamePassword            = &Error{Code: CodeSamePassword}
	ErrEmailAlreadyInUse       = &Error{Code: CodeEmailAlreadyInUse}
	ErrInvalidCurrentPassword  = &Error{Code: CodeInvalidCurrentPassword}
	ErrInvalidResetToken       = &Error{Code: CodeInvalidResetToken}
	ErrEmailDeliveryFailed     = &Error{Code: CodeEmailDeliveryFailed}
	ErrAuthError               = &Error{Code: CodeAuthError}
	ErrPermissionCheck         = &Error{Code: CodePermissionCheckError}
)
