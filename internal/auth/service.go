package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"punch-chat/internal/database"
	"punch-chat/internal/models"
	"punch-chat/pkg/logger"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrValidation         = errors.New("invalid input")
	ErrAccountTaken       = errors.New("email or username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("inactive or missing user")
)

const (
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt input limit
	minUsernameLen = 3
	maxUsernameLen = 64
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type Service struct {
	db     database.UserRepository
	tokens *TokenManager
}

func NewService(db database.UserRepository, tokens *TokenManager) *Service {
	return &Service{
		db:     db,
		tokens: tokens,
	}
}

func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	// Validate input
	if err := validateRegistrationRequest(req); err != nil {
		return nil, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.db.CreateUser(ctx, req.Email, req.Username, hash)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, ErrAccountTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	logger.Info("auth.registered", "user_id", user.ID)
	return user, nil
}

func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.TokenPair, error) {
	user, err := s.db.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	logger.Info("auth.login", "user_id", user.ID)
	return s.issuePair(user.ID)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	userID, err := s.tokens.Verify(refreshToken, KindRefresh)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.issuePair(userID)
}

// ResolveAccessToken is the single authentication path for HTTP and
// WebSocket callers.
func (s *Service) ResolveAccessToken(ctx context.Context, token string) (*models.User, error) {
	userID, err := s.tokens.Verify(token, KindAccess)
	if err != nil {
		return nil, err
	}
	return s.activeUser(ctx, userID)
}

// RequestPasswordReset never reveals whether the email is registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*models.PasswordResetResponse, error) {
	generic := &models.PasswordResetResponse{
		Message: "If an account exists with that email, a reset link has been sent.",
	}

	user, err := s.db.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, database.ErrNotFound) {
		logger.Info("auth.reset_requested_unknown")
		return generic, nil
	}
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(user.ID, KindPasswordReset)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	logger.Info("auth.reset_token_issued", "user_id", user.ID)
	return &models.PasswordResetResponse{
		Message:        "Password reset token generated",
		Token:          token,
		ExpiresInHours: int(s.tokens.TTL(KindPasswordReset).Hours()),
	}, nil
}

func (s *Service) ValidateResetToken(ctx context.Context, token string) (int, error) {
	userID, err := s.tokens.Verify(token, KindPasswordReset)
	if err != nil {
		return 0, err
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.ValidateResetToken(ctx, token)
	if err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.db.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	logger.Info("auth.password_reset", "user_id", userID)
	return nil
}

func (s *Service) activeUser(ctx context.Context, userID int) (*models.User, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInactiveUser
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return user, nil
}

func (s *Service) issuePair(userID int) (*models.TokenPair, error) {
	access, err := s.tokens.Issue(userID, KindAccess)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	refresh, err := s.tokens.Issue(userID, KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func validateRegistrationRequest(req *models.RegisterRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)

	if req.Username == "" || req.Email == "" || req.Password == "" {
		return fmt.Errorf("%w: missing required fields", ErrValidation)
	}
	if !emailRegex.MatchString(req.Email) {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	if n := len([]rune(req.Username)); n < minUsernameLen || n > maxUsernameLen {
		return fmt.Errorf("%w: username must be %d-%d characters long", ErrValidation, minUsernameLen, maxUsernameLen)
	}
	return validatePassword(req.Password)
}

func validatePassword(p string) error {
	if len(p) < minPasswordLen || len(p) > maxPasswordLen {
		return fmt.Errorf("%w: password must be %d-%d characters long", ErrValidation, minPasswordLen, maxPasswordLen)
	}
	return nil
}
