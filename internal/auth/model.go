package auth

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SafeUser is the only user projection that ever leaves this package. It has
// no password hash field at all, so one cannot leak by accident.
type SafeUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u User) Safe() SafeUser {
	return SafeUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// RefreshToken is one row of a session family. The raw token string is never
// stored; TokenHash is its sha256.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    string
	Family    string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

type PasswordResetToken struct {
	ID        string
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Session is the result of register, login and refresh.
type Session struct {
	User         SafeUser `json:"user"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
}

// Identity is the verified access-token payload attached to authenticated
// requests.
type Identity struct {
	ID       string
	Username string
	Email    string
	Role     string
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
