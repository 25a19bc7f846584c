package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// handleListResults returns scan summaries newest first, joined with the
// owning agent's name and OS. Read-only.
func (s *Server) handleListResults(c *gin.Context) {
	caller, ok := s.callerIdentity(c)
	if !ok {
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	var rows []struct {
		AgentName     string
		OSName        string
		BenchmarkName string
		ScorePercent  float64
		PassedCount   int
		FailedCount   int
		ScanTime      time.Time
	}
	q := s.db.WithContext(ctx).Model(&ScanResult{}).
		Select("agents.name AS agent_name, agents.os_name, scan_results.benchmark_name, scan_results.score_percent, scan_results.passed_count, scan_results.failed_count, scan_results.scan_time").
		Joins("JOIN agents ON agents.id = scan_results.agent_id")
	q = scanScope(q, caller).Order("scan_results.scan_time DESC")

	if err := q.Scan(&rows).Error; err != nil {
		s.respondStorage(c, "results", err)
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"hostname":  row.AgentName,
			"os":        row.OSName,
			"benchmark": row.BenchmarkName,
			"score":     row.ScorePercent,
			"passed":    row.PassedCount,
			"failed":    row.FailedCount,
			"scan_time": row.ScanTime.UTC().Format(scanTimeFormat),
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleAgentDetail returns the check-level detail of an agent's latest
// scan, or 404 when the agent has no scan history.
func (s *Server) handleAgentDetail(c *gin.Context) {
	caller, ok := s.callerIdentity(c)
	if !ok {
		return
	}

	name := c.Param("name")
	if !canAccess(caller, name) {
		respondError(c, http.StatusForbidden, "not entitled to requested scope", s.logger)
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()
	db := s.db.WithContext(ctx)

	var agent Agent
	if err := db.Where("name = ?", name).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "agent not found", s.logger)
			return
		}
		s.respondStorage(c, "agent-detail", err)
		return
	}

	var scan ScanResult
	if err := db.Where("agent_id = ?", agent.ID).Order("scan_time DESC").First(&scan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "no scans recorded for agent", s.logger)
			return
		}
		s.respondStorage(c, "agent-detail", err)
		return
	}

	var details []CheckDetail
	if err := db.Where("scan_id = ?", scan.ID).Order("cis_id").Find(&details).Error; err != nil {
		s.respondStorage(c, "agent-detail", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent":     agent.Name,
		"os":        agent.OSName,
		"benchmark": scan.BenchmarkName,
		"score":     scan.ScorePercent,
		"passed":    scan.PassedCount,
		"failed":    scan.FailedCount,
		"scan_time": scan.ScanTime.UTC().Format(scanTimeFormat),
		"checks":    details,
	})
}
