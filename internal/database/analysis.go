// Package database defines the insertions and lookups of analysis records
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skin-api/internal/vision"
)

var ErrNotFound = errors.New("analysis not found")

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AnalysisRecord is the persisted outcome of one pipeline run, including
// partial runs that failed after the image was stored
type AnalysisRecord struct {
	RequestID       string          `json:"request_id"`
	ObjectName      string          `json:"object_name"`
	ImageURL        string          `json:"image_url"`
	AuditName       string          `json:"audit_name,omitempty"`
	Question        string          `json:"question"`
	Findings        vision.Findings `json:"analysis"`
	Reasoning       string          `json:"reasoning"`
	Answer          string          `json:"answer"`
	ReasoningStatus string          `json:"reasoning_status"`
	Status          string          `json:"status"`
	FailedStage     string          `json:"failed_stage,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SaveAnalysis inserts rec, replacing any earlier row for the same request
func SaveAnalysis(ctx context.Context, db *sql.DB, rec *AnalysisRecord) error {
	findings, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx, `INSERT INTO analysis (
		request_id, object_name, image_url, audit_name, question, findings,
		reasoning, answer, reasoning_status, status, failed_stage, error_kind,
		error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		findings = VALUES(findings),
		reasoning = VALUES(reasoning),
		answer = VALUES(answer),
		reasoning_status = VALUES(reasoning_status),
		status = VALUES(status),
		failed_stage = VALUES(failed_stage),
		error_kind = VALUES(error_kind),
		error_message = VALUES(error_message)`,
		rec.RequestID, rec.ObjectName, rec.ImageURL, rec.AuditName, rec.Question, string(findings),
		rec.Reasoning, rec.Answer, rec.ReasoningStatus, rec.Status, rec.FailedStage, rec.ErrorKind,
		rec.ErrorMessage, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

func GetAnalysis(ctx context.Context, db *sql.DB, requestID string) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	var findings sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT
		request_id,
		object_name,
		image_url,
		audit_name,
		question,
		findings,
		reasoning,
		answer,
		reasoning_status,
		status,
		failed_stage,
		error_kind,
		error_message,
		created_at
		FROM analysis
		WHERE request_id = ?
		`, requestID).Scan(
		&rec.RequestID,
		&rec.ObjectName,
		&rec.ImageURL,
		&rec.AuditName,
		&rec.Question,
		&findings,
		&rec.Reasoning,
		&rec.Answer,
		&rec.ReasoningStatus,
		&rec.Status,
		&rec.FailedStage,
		&rec.ErrorKind,
		&rec.ErrorMessage,
		&rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if findings.Valid && findings.String != "" {
		if err := json.Unmarshal([]byte(findings.String), &rec.Findings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal findings: %w", err)
		}
	}
	return &rec, nil
}
