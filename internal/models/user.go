package models

import "time"

type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is what other users may see about an account.
type PublicUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetResponse struct {
	Message        string `json:"message"`
	Token          string `json:"token,omitempty"`
	ExpiresInHours int    `json:"expires_in_hours,omitempty"`
}

type ResetTokenRequest struct {
	Token string `json:"token"`
}

type ResetTokenValidation struct {
	UserID  int    `json:"user_id"`
	Message string `json:"message"`
}

type PasswordReset struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type AdminStats struct {
	TotalUsers    int `json:"total_users"`
	ActiveUsers   int `json:"active_users"`
	AdminUsers    int `json:"admin_users"`
	TotalRooms    int `json:"total_rooms"`
	TotalMessages int `json:"total_messages"`
}
