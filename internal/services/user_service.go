package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"punch-chat/internal/database"
	"punch-chat/internal/models"
	"punch-chat/pkg/logger"
)

const (
	maxSearchQuery   = 50
	maxSearchResults = 20
)

type UserService struct {
	db database.Database
}

func NewUserService(db database.Database) *UserService {
	return &UserService{db: db}
}

// Search matches usernames case-insensitively and never returns the caller.
func (s *UserService) Search(ctx context.Context, callerID int, q string) ([]*models.PublicUser, error) {
	q = strings.TrimSpace(q)
	if n := utf8.RuneCountInString(q); n < 1 || n > maxSearchQuery {
		return nil, ErrInvalidQuery
	}
	return s.db.SearchUsers(ctx, q, callerID, maxSearchResults)
}

func (s *UserService) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.db.ListUsers(ctx)
}

func (s *UserService) Stats(ctx context.Context) (*models.AdminStats, error) {
	return s.db.Stats(ctx)
}

// ToggleActive flips the target's active flag. Admins cannot lock themselves out.
func (s *UserService) ToggleActive(ctx context.Context, adminID, userID int) (*models.User, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.ID == adminID {
		return nil, ErrSelfAction
	}

	user.IsActive = !user.IsActive
	if err := s.db.SetUserActive(ctx, user.ID, user.IsActive); err != nil {
		return nil, err
	}
	logger.Info("admin.toggle_active", "admin_id", adminID, "user_id", user.ID, "active", user.IsActive)
	return user, nil
}

// ToggleAdmin flips the target's admin flag. Admins cannot demote themselves.
func (s *UserService) ToggleAdmin(ctx context.Context, adminID, userID int) (*models.User, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.ID == adminID && user.IsAdmin {
		return nil, ErrSelfAction
	}

	user.IsAdmin = !user.IsAdmin
	if err := s.db.SetUserAdmin(ctx, user.ID, user.IsAdmin); err != nil {
		return nil, err
	}
	logger.Info("admin.toggle_admin", "admin_id", adminID, "user_id", user.ID, "admin", user.IsAdmin)
	return user, nil
}

func (s *UserService) getUser(ctx context.Context, userID int) (*models.User, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}
