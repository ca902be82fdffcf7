package core

import (
	"errors"
	"time"
)

// Operator represents an authenticated console principal returned to handlers.
type Operator struct {
	ID        int64
	Username  string
	Role      string
	CreatedAt time.Time
}

var (
	// ErrInvalidCredentials is returned when username/password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AuthService defines console authentication behaviour.
type AuthService interface {
	Authenticate(username, password string) (Operator, error)
}
