package main

import "time"

// Agent roles. Agents default to RoleAgent; RoleAdmin grants global reads
// on the aggregation endpoints.
const (
	RoleAdmin = "ADMIN"
	RoleAgent = "AGENT"
)

// Agent is the registration record for one monitored host. Name is the
// stable identity; the token is the upload credential and never appears in
// responses or logs after registration.
type Agent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name"`
	OSName     string    `json:"os_name"`
	IPAddress  string    `json:"ip_address"`
	Role       string    `gorm:"default:AGENT" json:"role"`
	AgentToken string    `gorm:"uniqueIndex" json:"-"`
	CreatedAt  time.Time `json:"created_at"`

	ScanResults []ScanResult `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// ScanResult summarizes one audit run for one agent. Rows are immutable once
// created and ordered by ScanTime for latest/trend queries.
type ScanResult struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AgentID       uint      `gorm:"index;not null" json:"agent_id"`
	BenchmarkName string    `gorm:"not null" json:"benchmark_name"`
	ScorePercent  float64   `json:"score_percent"`
	PassedCount   int       `json:"passed_count"`
	FailedCount   int       `json:"failed_count"`
	ScanTime      time.Time `gorm:"index;not null" json:"scan_time"`

	CheckDetails []CheckDetail `gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE" json:"-"`
}

// CheckDetail is one benchmark rule evaluated during a scan. Lifecycle is
// tied to the owning ScanResult.
type CheckDetail struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ScanID      uint   `gorm:"index;not null" json:"scan_id"`
	CISID       string `gorm:"column:cis_id;index;not null" json:"cis_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Remediation string `json:"remediation"`
	// JSON object: compliance standard name -> list of tag references.
	ComplianceTags string `gorm:"type:text" json:"compliance_tags,omitempty"`
}

// User is an operator account for the dashboard, separate from Agent.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:analyst" json:"role"`
	Status       string     `gorm:"default:Active" json:"status"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
}
