package auth

import (
	"errors"
	"net/http"
	"runtime/debug"

	"shepherd/internal/logs"
	"shepherd/internal/middleware"
	"shepherd/internal/models"
	"shepherd/internal/repo"
)

// WriteError переводит ошибку ядра в конверт ответа. Внутренние сбои пишутся в лог
// со стеком; клиент видит их текст только в dev-режиме.
func WriteError(w http.ResponseWriter, r *http.Request, err error, dev bool) {
	var e *Error
	switch {
	case errors.As(err, &e):
		status := e.Code.Status()
		msg := e.PublicMessage()
		if status >= http.StatusInternalServerError {
			logInternal(r, e.Code.Wire(), err)
			if dev && e.Err != nil {
				msg = msg + ": " + e.Err.Error()
			}
		}
		models.WriteFailure(w, status, e.Code.Wire(), msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		models.WriteFailure(w, http.StatusNotFound, "NOT_FOUND", "Account not found", nil)
	default:
		logInternal(r, "INTERNAL_ERROR", err)
		msg := "Internal server error"
		if dev {
			msg = msg + ": " + err.Error()
		}
		models.WriteFailure(w, http.StatusInternalServerError, "INTERNAL_ERROR", msg, nil)
	}
}

func logInternal(r *http.Request, code string, err error) {
	logs.Logger.WithFields(map[string]any{
		"reqid": middleware.GetRequestID(r),
		"code":  code,
		"uri":   r.RequestURI,
	}).WithError(err).Errorf("request failed\nstack:\n%s", debug.Stack())
}
