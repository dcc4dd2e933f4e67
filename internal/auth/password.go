package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const DefaultBcryptCost = 12

// CredentialError: сбой самого примитива хэширования (не "пароль неверный").
type CredentialError struct{ Err error }

func (e *CredentialError) Error() string { return "credential primitive failure: " + e.Err.Error() }
func (e *CredentialError) Unwrap() error { return e.Err }

// Hasher хэширует пароли bcrypt с фиксированной стоимостью.
type Hasher struct{ cost int }

func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return Hasher{cost: cost}
}

func (h Hasher) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", &CredentialError{Err: fmt.Errorf("hash password: %w", err)}
	}
	return string(b), nil
}

// Verify: несовпадение это (false, nil); битый хэш или иной сбой возвращается как CredentialError.
func (h Hasher) Verify(plaintext, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, &CredentialError{Err: err}
	}
}
