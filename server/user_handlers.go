package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Operator account CRUD. Credential hashes never leave the store; the User
// model excludes them from serialization.

func (s *Server) handleListUsers(c *gin.Context) {
	ctx, cancel := s.queryContext(c)
	defer cancel()

	var users []User
	if err := s.db.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		s.respondStorage(c, "list-users", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid user payload", s.logger)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondError(c, http.StatusBadRequest, "username and password are required", s.logger)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to hash credential", s.logger)
		return
	}

	role := req.Role
	if role == "" {
		role = "analyst"
	}
	now := time.Now().UTC()
	user := User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         role,
		Status:       "Active",
		LastLogin:    &now,
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			respondError(c, http.StatusConflict, "username already exists", s.logger)
			return
		}
		s.respondStorage(c, "create-user", err)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().Str("username", user.Username).Msg("User created")
	c.JSON(http.StatusCreated, gin.H{"message": "User added successfully!", "id": user.ID})
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid user id", s.logger)
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()
	db := s.db.WithContext(ctx)

	var user User
	if err := db.First(&user, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "user not found", s.logger)
			return
		}
		s.respondStorage(c, "delete-user", err)
		return
	}

	if err := db.Delete(&user).Error; err != nil {
		s.respondStorage(c, "delete-user", err)
		return
	}
	c.Status(http.StatusNoContent)
}
