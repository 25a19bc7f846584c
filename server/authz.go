package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const agentContextKey = "agent"

// bearerToken extracts the Authorization bearer credential. ok is false when
// the header is missing or not in Bearer form.
func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	return token, token != ""
}

// requireAgent authenticates the bearer token and stores the agent on the
// context. A missing or malformed header is 401, an unknown token 403.
// Neither path performs any write.
func (s *Server) requireAgent(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "missing or malformed bearer token", s.logger)
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	agent, err := s.agentByToken(ctx, token)
	if err != nil {
		if errors.Is(err, errUnknownToken) {
			respondError(c, http.StatusForbidden, "invalid agent token", s.logger)
			return
		}
		s.respondStorage(c, "authenticate", err)
		return
	}

	c.Set(agentContextKey, agent)
	c.Next()
}

// callerIdentity resolves the optional caller identity on read endpoints.
// No Authorization header means an operator dashboard session with global
// read access (nil caller). A header that is present but does not resolve is
// rejected and ok is false.
func (s *Server) callerIdentity(c *gin.Context) (*Agent, bool) {
	if c.GetHeader("Authorization") == "" {
		return nil, true
	}

	token, ok := bearerToken(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "missing or malformed bearer token", s.logger)
		return nil, false
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	agent, err := s.agentByToken(ctx, token)
	if err != nil {
		if errors.Is(err, errUnknownToken) {
			respondError(c, http.StatusForbidden, "invalid agent token", s.logger)
			return nil, false
		}
		s.respondStorage(c, "authenticate", err)
		return nil, false
	}
	return agent, true
}

// canAccess reports whether caller may read target's data. A nil caller is
// an operator session; admins read everything; agents read only themselves.
func canAccess(caller *Agent, targetName string) bool {
	if caller == nil || caller.Role == RoleAdmin {
		return true
	}
	return strings.EqualFold(caller.Name, targetName)
}

// scanScope narrows a scan query to the rows the caller may see.
func scanScope(q *gorm.DB, caller *Agent) *gorm.DB {
	if caller == nil || caller.Role == RoleAdmin {
		return q
	}
	return q.Where("scan_results.agent_id = ?", caller.ID)
}
