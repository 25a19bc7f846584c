package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// handleRegisterAgent implements idempotent create-or-return registration.
// Registering the same name twice returns the same identity and token.
func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req struct {
		SystemName string `json:"system_name"`
		OSName     string `json:"os_name"`
		IPAddress  string `json:"ip_address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid registration payload", s.logger)
		return
	}
	name := strings.TrimSpace(req.SystemName)
	if name == "" {
		respondError(c, http.StatusBadRequest, "system_name is required", s.logger)
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	agent, err := s.registerOrGet(s.db.WithContext(ctx), name, req.OSName, req.IPAddress)
	if err != nil {
		s.respondStorage(c, "register", err)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().Str("agent", agent.Name).Uint("agent_id", agent.ID).Msg("Agent registered")
	c.JSON(http.StatusOK, gin.H{
		"agent_id":    agent.ID,
		"agent_token": agent.AgentToken,
	})
}

// registerOrGet returns the existing agent for name or creates a new one
// with a freshly issued token. The unique index on agents.name is the
// serialization point: a losing concurrent insert retries as a lookup
// instead of surfacing the conflict.
func (s *Server) registerOrGet(db *gorm.DB, name, osName, ip string) (*Agent, error) {
	var agent Agent
	err := db.Where("name = ?", name).First(&agent).Error
	switch {
	case err == nil:
		// Migration-compatibility path: mint a token only when the existing
		// row lacks one. The conditional update is the serialization point
		// for concurrent mints; a lost race re-reads the winning token.
		if agent.AgentToken == "" {
			token, terr := issueAgentToken()
			if terr != nil {
				return nil, terr
			}
			res := db.Model(&Agent{}).
				Where("id = ? AND (agent_token = '' OR agent_token IS NULL)", agent.ID).
				Update("agent_token", token)
			if res.Error != nil {
				return nil, res.Error
			}
			if res.RowsAffected == 0 {
				var current Agent
				if lerr := db.First(&current, agent.ID).Error; lerr != nil {
					return nil, lerr
				}
				return &current, nil
			}
			agent.AgentToken = token
		}
		return &agent, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		token, terr := issueAgentToken()
		if terr != nil {
			return nil, terr
		}
		fresh := Agent{
			Name:       name,
			OSName:     osName,
			IPAddress:  ip,
			Role:       RoleAgent,
			AgentToken: token,
		}
		cerr := db.Create(&fresh).Error
		if cerr == nil {
			return &fresh, nil
		}
		if isUniqueViolation(cerr) {
			// Lost the insert race; the winner's row is authoritative.
			var existing Agent
			if lerr := db.Where("name = ?", name).First(&existing).Error; lerr != nil {
				return nil, lerr
			}
			return &existing, nil
		}
		return nil, cerr

	default:
		return nil, err
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// handleDeleteAgent removes an agent and its scan history. Admin only; the
// multi-table delete commits atomically.
func (s *Server) handleDeleteAgent(c *gin.Context) {
	caller, _ := contextAgent(c)
	if caller == nil || caller.Role != RoleAdmin {
		respondError(c, http.StatusForbidden, "admin role required", s.logger)
		return
	}

	name := c.Param("name")
	ctx, cancel := s.queryContext(c)
	defer cancel()
	db := s.db.WithContext(ctx)

	var agent Agent
	if err := db.Where("name = ?", name).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "agent not found", s.logger)
			return
		}
		s.respondStorage(c, "delete-agent", err)
		return
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		scanIDs := tx.Model(&ScanResult{}).Select("id").Where("agent_id = ?", agent.ID)
		if err := tx.Where("scan_id IN (?)", scanIDs).Delete(&CheckDetail{}).Error; err != nil {
			return err
		}
		if err := tx.Where("agent_id = ?", agent.ID).Delete(&ScanResult{}).Error; err != nil {
			return err
		}
		return tx.Delete(&agent).Error
	})
	if err != nil {
		s.respondStorage(c, "delete-agent", err)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().Str("agent", agent.Name).Msg("Agent deleted")
	c.Status(http.StatusNoContent)
}
