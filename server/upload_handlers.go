package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tracehq/trace/pkg/report"
)

// handleUpload ingests one scan for the authenticated agent. Validation and
// scoring happen before any write; the scan row and its check details commit
// in one transaction, so a partial scan is never visible.
func (s *Server) handleUpload(c *gin.Context) {
	agent, ok := contextAgent(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "missing agent identity", s.logger)
		return
	}

	var payload report.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid upload payload", s.logger)
		return
	}

	res, err := report.Parse(payload.Results)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid results payload", s.logger)
		return
	}

	passed, failed, score := res.Passed, res.Failed, res.Score
	if s.probe != nil {
		if extra := s.probe.Assess(agent.Name, agent.OSName); extra > 0 {
			failed += extra
			score = report.Score(passed, failed)
		}
	}

	scan := ScanResult{
		AgentID:       agent.ID,
		BenchmarkName: res.Benchmark,
		ScorePercent:  score,
		PassedCount:   passed,
		FailedCount:   failed,
		ScanTime:      time.Now().UTC(),
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&scan).Error; err != nil {
			return err
		}
		for _, check := range res.Checks {
			detail := CheckDetail{
				ScanID:      scan.ID,
				CISID:       check.CISID,
				Title:       check.Title,
				Status:      strings.ToUpper(strings.TrimSpace(check.Status)),
				Remediation: check.Remediation,
			}
			if len(check.Tags) > 0 {
				tags, merr := json.Marshal(check.Tags)
				if merr != nil {
					return merr
				}
				detail.ComplianceTags = string(tags)
			}
			if err := tx.Create(&detail).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.respondStorage(c, "upload", err)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().
		Str("agent", agent.Name).
		Str("benchmark", scan.BenchmarkName).
		Float64("score", scan.ScorePercent).
		Int("passed", scan.PassedCount).
		Int("failed", scan.FailedCount).
		Msg("Scan ingested")

	c.JSON(http.StatusOK, gin.H{
		"message": "Scan uploaded successfully",
		"agent":   agent.Name,
		"score":   scan.ScorePercent,
		"passed":  scan.PassedCount,
		"failed":  scan.FailedCount,
	})
}
