package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tracehq/trace/pkg/report"
)

const scanTimeFormat = "2006-01-02 15:04:05"

// handleOverview computes the dashboard headline numbers. The security score
// averages one sample per agent (its most recent scan); totalIssues sums
// failed checks across every scan ever recorded.
func (s *Server) handleOverview(c *gin.Context) {
	caller, ok := s.callerIdentity(c)
	if !ok {
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()
	db := s.db.WithContext(ctx)

	agents := db.Model(&Agent{})
	if caller != nil && caller.Role != RoleAdmin {
		agents = agents.Where("id = ?", caller.ID)
	}
	var totalAgents int64
	if err := agents.Count(&totalAgents).Error; err != nil {
		s.respondStorage(c, "overview", err)
		return
	}

	var totalIssues int64
	if err := scanScope(db.Model(&ScanResult{}), caller).
		Select("COALESCE(SUM(failed_count), 0)").
		Scan(&totalIssues).Error; err != nil {
		s.respondStorage(c, "overview", err)
		return
	}

	scores, err := latestScores(db, caller)
	if err != nil {
		s.respondStorage(c, "overview", err)
		return
	}

	avg := 0.0
	if len(scores) > 0 {
		sum := 0.0
		for _, score := range scores {
			sum += score
		}
		avg = report.Round2(sum / float64(len(scores)))
	}

	var posture string
	switch {
	case totalAgents == 0:
		posture = "No Data"
	case avg >= 80:
		posture = "Excellent"
	case avg >= 50:
		posture = "Needs Improvement"
	default:
		posture = "Poor"
	}

	c.JSON(http.StatusOK, gin.H{
		"securityScore": avg,
		"totalAgents":   totalAgents,
		"totalIssues":   totalIssues,
		"posture":       posture,
	})
}

// latestScores returns each agent's most recent scan score, one sample per
// agent.
func latestScores(db *gorm.DB, caller *Agent) ([]float64, error) {
	latest := db.Model(&ScanResult{}).
		Select("agent_id, MAX(scan_time) AS latest_time").
		Group("agent_id")

	q := db.Model(&ScanResult{}).
		Joins("JOIN (?) AS latest ON scan_results.agent_id = latest.agent_id AND scan_results.scan_time = latest.latest_time", latest)
	q = scanScope(q, caller)

	var scores []float64
	if err := q.Pluck("scan_results.score_percent", &scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

// handleTrends returns the raw score time series across all scans, ascending
// by scan time. Consumers group per agent if they need to.
func (s *Server) handleTrends(c *gin.Context) {
	caller, ok := s.callerIdentity(c)
	if !ok {
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	var scans []ScanResult
	if err := scanScope(s.db.WithContext(ctx).Model(&ScanResult{}), caller).
		Order("scan_time ASC").
		Find(&scans).Error; err != nil {
		s.respondStorage(c, "trends", err)
		return
	}

	out := make([]gin.H, 0, len(scans))
	for _, scan := range scans {
		out = append(out, gin.H{
			"date":  scan.ScanTime.UTC().Format(scanTimeFormat),
			"score": scan.ScorePercent,
		})
	}
	c.JSON(http.StatusOK, out)
}

type failingScanRow struct {
	ID            uint
	AgentName     string
	OSName        string
	BenchmarkName string
	FailedCount   int
	ScanTime      time.Time
}

// handleVulnerabilities derives findings from stored failure counts. Nothing
// is persisted; the list is recomputed on every read.
func (s *Server) handleVulnerabilities(c *gin.Context) {
	caller, ok := s.callerIdentity(c)
	if !ok {
		return
	}

	target := c.DefaultQuery("agent", "all")
	if target != "all" && !canAccess(caller, target) {
		respondError(c, http.StatusForbidden, "not entitled to requested scope", s.logger)
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	q := s.db.WithContext(ctx).Model(&ScanResult{}).
		Select("scan_results.id, agents.name AS agent_name, agents.os_name, scan_results.benchmark_name, scan_results.failed_count, scan_results.scan_time").
		Joins("JOIN agents ON agents.id = scan_results.agent_id").
		Where("scan_results.failed_count > 0")
	if target != "all" {
		q = q.Where("agents.name = ?", target)
	}
	q = scanScope(q, caller).Order("scan_results.scan_time DESC")

	var rows []failingScanRow
	if err := q.Scan(&rows).Error; err != nil {
		s.respondStorage(c, "vulnerabilities", err)
		return
	}

	findings := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		findings = append(findings, gin.H{
			"id":           fmt.Sprintf("VULN-%d", row.ID),
			"severity":     severityFor(row.FailedCount),
			"category":     row.BenchmarkName,
			"description":  fmt.Sprintf("%d failed compliance checks detected", row.FailedCount),
			"system":       row.AgentName,
			"dateDetected": row.ScanTime.UTC().Format(scanTimeFormat),
			"status":       "Open",
		})
	}
	c.JSON(http.StatusOK, findings)
}

// severityFor classifies a failing scan by how many checks failed.
func severityFor(failedCount int) string {
	if failedCount > 3 {
		return "High"
	}
	return "Medium"
}

// handleCompliance summarizes posture per benchmark.
func (s *Server) handleCompliance(c *gin.Context) {
	caller, ok := s.callerIdentity(c)
	if !ok {
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	var rows []struct {
		BenchmarkName string
		Scans         int64
		AvgScore      float64
		Passed        int64
		Failed        int64
	}
	if err := scanScope(s.db.WithContext(ctx).Model(&ScanResult{}), caller).
		Select("benchmark_name, COUNT(*) AS scans, AVG(score_percent) AS avg_score, SUM(passed_count) AS passed, SUM(failed_count) AS failed").
		Group("benchmark_name").
		Order("benchmark_name").
		Scan(&rows).Error; err != nil {
		s.respondStorage(c, "compliance", err)
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		score := report.Round2(row.AvgScore)
		status := "NON-COMPLIANT"
		switch {
		case score >= 80:
			status = "COMPLIANT"
		case score >= 50:
			status = "PARTIAL"
		}
		out = append(out, gin.H{
			"framework":    row.BenchmarkName,
			"overallScore": score,
			"status":       status,
			"totalScans":   row.Scans,
			"passedChecks": row.Passed,
			"failedChecks": row.Failed,
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleRemediation lists the failing rules from each agent's latest scan
// together with their remediation text.
func (s *Server) handleRemediation(c *gin.Context) {
	caller, ok := s.callerIdentity(c)
	if !ok {
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()
	db := s.db.WithContext(ctx)

	latest := db.Model(&ScanResult{}).
		Select("agent_id, MAX(scan_time) AS latest_time").
		Group("agent_id")

	q := db.Model(&CheckDetail{}).
		Select("agents.name AS agent_name, check_details.cis_id AS cis_id, check_details.title, check_details.remediation, scan_results.failed_count").
		Joins("JOIN scan_results ON scan_results.id = check_details.scan_id").
		Joins("JOIN (?) AS latest ON scan_results.agent_id = latest.agent_id AND scan_results.scan_time = latest.latest_time", latest).
		Joins("JOIN agents ON agents.id = scan_results.agent_id").
		Where("check_details.status = ?", "FAIL")
	q = scanScope(q, caller).Order("agents.name, check_details.cis_id")

	var rows []struct {
		AgentName   string
		CISID       string `gorm:"column:cis_id"`
		Title       string
		Remediation string
		FailedCount int
	}
	if err := q.Scan(&rows).Error; err != nil {
		s.respondStorage(c, "remediation", err)
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"system":       row.AgentName,
			"cis_id":       row.CISID,
			"title":        row.Title,
			"suggestedFix": row.Remediation,
			"severity":     severityFor(row.FailedCount),
		})
	}
	c.JSON(http.StatusOK, out)
}
