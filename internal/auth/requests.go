package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"shepherd/internal/models"
)

const (
	minPasswordLen = 8
	// bcrypt учитывает только первые 72 байта
	maxPasswordBytes = 72
	maxBodyBytes     = 64 << 10
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type purposeRequest struct {
	Type string `json:"type"`
}

type profileRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Position *string `json:"position"`
	Token    string  `json:"token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"currentPassword"`
}

type changePasswordRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword"`
	CurrentPassword string `json:"currentPassword"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	ID          string `json:"id"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// decode читает JSON-тело. Пустое тело даёт нулевую структуру.
func decode(r *http.Request, dst any) []models.FieldError {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return []models.FieldError{{Field: "body", Message: "must be a valid JSON object"}}
	}
	return nil
}

type checker struct{ errs []models.FieldError }

func (c *checker) add(field, msg string) {
	c.errs = append(c.errs, models.FieldError{Field: field, Message: msg})
}

func (c *checker) required(field, v string) bool {
	if strings.TrimSpace(v) == "" {
		c.add(field, "is required")
		return false
	}
	return true
}

func (c *checker) email(field, v string) {
	if !c.required(field, v) {
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(v))
	if err != nil || addr.Name != "" || !strings.Contains(addr.Address, "@") {
		c.add(field, "must be a valid email address")
	}
}

func (c *checker) password(field, v string) {
	if !c.required(field, v) {
		return
	}
	if utf8.RuneCountInString(v) < minPasswordLen {
		c.add(field, "must be at least 8 characters")
	}
	if len(v) > maxPasswordBytes {
		c.add(field, "must be at most 72 bytes")
	}
}

func (c *checker) maxLen(field string, v *string, n int) {
	if v != nil && utf8.RuneCountInString(*v) > n {
		c.add(field, "is too long")
	}
}

func (req loginRequest) validate() []models.FieldError {
	var c checker
	c.email("email", req.Email)
	c.required("password", req.Password)
	return c.errs
}

func (req purposeRequest) validate() []models.FieldError {
	var c checker
	if c.required("type", req.Type) && !models.TokenPurpose(req.Type).Valid() {
		c.add("type", "must be one of: email, profile")
	}
	return c.errs
}

func (req profileRequest) validate() []models.FieldError {
	var c checker
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		c.add("name", "must not be empty")
	}
	if req.Email != nil {
		c.email("email", *req.Email)
	}
	c.maxLen("name", req.Name, 255)
	c.maxLen("phone", req.Phone, 64)
	c.maxLen("position", req.Position, 255)
	return c.errs
}

func (req profileRequest) input() ProfileInput {
	in := ProfileInput{Email: req.Email, Phone: req.Phone, Position: req.Position, Token: strings.TrimSpace(req.Token)}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		in.Name = &name
	}
	return in
}

func (req passwordChangeRequest) validate() []models.FieldError {
	var c checker
	c.required("currentPassword", req.CurrentPassword)
	return c.errs
}

func (req changePasswordRequest) validate() []models.FieldError {
	var c checker
	c.password("newPassword", req.NewPassword)
	return c.errs
}

func (req forgotRequest) validate() []models.FieldError {
	var c checker
	c.email("email", req.Email)
	return c.errs
}

func (req resetRequest) validate() []models.FieldError {
	var c checker
	c.required("id", req.ID)
	c.required("token", req.Token)
	c.password("newPassword", req.NewPassword)
	return c.errs
}
