package models

import (
	"encoding/json"
	"net/http"
)

// Envelope: единый формат всех JSON-ответов API.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`   // стабильный код ошибки
	Data    any    `json:"data,omitempty"`   // полезная нагрузка успешного ответа
	Errors  any    `json:"errors,omitempty"` // ошибки валидации по полям
}

// FieldError: одна ошибка валидации входных данных.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func WriteSuccess(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func WriteFailure(w http.ResponseWriter, status int, code, message string, errs any) {
	WriteJSON(w, status, Envelope{Success: false, Message: message, Code: code, Errors: errs})
}

func WriteValidation(w http.ResponseWriter, errs []FieldError) {
	WriteFailure(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", errs)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
