package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
)

const communicationColumns = `id, employee_id, sender, recipients, subject, body, attachments,
	channel, sent_at, is_external, risk_score, risk_flags, category, is_analyzed,
	is_flagged, analyzed_at, analyzer_version`

// SaveCommunications stores new communications. Communications that already
// exist are left untouched, so re-ingesting a feed never resets analysis.
func (s *SQLiteStorage) SaveCommunications(ctx context.Context, comms []model.Communication) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(comms) == 0 {
		return nil
	}
	for i := range comms {
		if err := validateCommunication(&comms[i]); err != nil {
			return err
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO communications (
				id, employee_id, sender, recipients, subject, body, attachments,
				channel, sent_at, is_external
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range comms {
			c := &comms[i]
			recipients, err := marshalJSON(c.Recipients)
			if err != nil {
				return err
			}
			attachments, err := marshalJSON(c.Attachments)
			if err != nil {
				return err
			}
			channel := c.Channel
			if channel == "" {
				channel = model.ChannelEmail
			}

			if _, err := stmt.ExecContext(ctx, c.ID, c.EmployeeID, c.Sender, recipients,
				c.Subject, c.Body, attachments, channel, c.SentAt.UTC(),
				boolToInt(c.IsExternal)); err != nil {
				return fmt.Errorf("failed to insert communication %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// GetCommunication returns one communication with its current overlay.
func (s *SQLiteStorage) GetCommunication(ctx context.Context, id string) (*model.Communication, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "communication id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+communicationColumns+` FROM communications WHERE id = ?`, id)
	comm, err := scanCommunication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("communication", id)
	}
	if err != nil {
		return nil, err
	}
	return comm, nil
}

// ListCommunications returns communications matching filter, newest first.
func (s *SQLiteStorage) ListCommunications(ctx context.Context, filter service.CommunicationFilter) ([]model.Communication, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if filter.Since != nil && filter.Until != nil && filter.Until.Before(*filter.Since) {
		return nil, ErrInvalidDateRange
	}

	var conditions []string
	var args []any
	if filter.EmployeeID != "" {
		conditions = append(conditions, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Since != nil {
		conditions = append(conditions, "sent_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		conditions = append(conditions, "sent_at < ?")
		args = append(args, filter.Until.UTC())
	}
	switch {
	case filter.OnlyAnalyzed:
		conditions = append(conditions, "is_analyzed = 1")
	case filter.OnlyUnanalyzed:
		conditions = append(conditions, "is_analyzed = 0")
	}

	query := `SELECT ` + communicationColumns + ` FROM communications`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY sent_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query communications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comms []model.Communication
	for rows.Next() {
		comm, err := scanCommunication(rows)
		if err != nil {
			return nil, err
		}
		comms = append(comms, *comm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating communications: %w", err)
	}
	return comms, nil
}

// CountSentBetween counts an employee's communications sent within [start, end].
func (s *SQLiteStorage) CountSentBetween(ctx context.Context, employeeID string, start, end time.Time) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(employeeID, "employee id"); err != nil {
		return 0, err
	}
	if end.Before(start) {
		return 0, ErrInvalidDateRange
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM communications
		WHERE employee_id = ? AND sent_at >= ? AND sent_at <= ?`,
		employeeID, start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count communications: %w", err)
	}
	return count, nil
}

// ListSentTimes returns the send times within [start, end) grouped by employee.
func (s *SQLiteStorage) ListSentTimes(ctx context.Context, start, end time.Time) (map[string][]time.Time, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, ErrInvalidDateRange
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, sent_at FROM communications
		WHERE sent_at >= ? AND sent_at < ?
		ORDER BY employee_id, sent_at`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query send times: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]time.Time)
	for rows.Next() {
		var employeeID string
		var sentAt time.Time
		if err := rows.Scan(&employeeID, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan send time: %w", err)
		}
		out[employeeID] = append(out[employeeID], sentAt)
	}
	return out, rows.Err()
}

// SaveAnalysis overwrites the analysis overlay and appends every detection
// result in one transaction. Result IDs are populated on success.
func (s *SQLiteStorage) SaveAnalysis(ctx context.Context, communicationID string, analysis model.Analysis, results []model.DetectionResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(communicationID, "communication id"); err != nil {
		return err
	}

	flags, err := marshalJSON(analysis.RiskFlags)
	if err != nil {
		return err
	}
	analyzedAt := analysis.AnalyzedAt

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE communications SET
				risk_score = ?, risk_flags = ?, category = ?, is_analyzed = ?,
				is_flagged = ?, analyzed_at = ?, analyzer_version = ?
			WHERE id = ?`,
			analysis.RiskScore, flags, analysis.Category, boolToInt(analysis.IsAnalyzed),
			boolToInt(analysis.IsFlagged), nullTime(&analyzedAt), analysis.AnalyzerVersion,
			communicationID)
		if err != nil {
			return fmt.Errorf("failed to update analysis overlay: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return common.NewNotFoundError("communication", communicationID)
		}

		if len(results) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO detection_results (
				run_id, communication_id, category_id, category_name, severity,
				matched_keywords, pattern_matches, applied_multipliers, recommendations,
				confidence, match_weight, risk_score, final_risk_score,
				triggers_alert, triggers_investigation, triggers_critical,
				analysis_method, reasoning, degraded, degraded_reason, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare detection insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range results {
			if err := insertDetection(ctx, stmt, communicationID, &results[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertDetection(ctx context.Context, stmt *sql.Stmt, communicationID string, r *model.DetectionResult) error {
	keywords, err := marshalJSON(r.MatchedKeywords)
	if err != nil {
		return err
	}
	patterns, err := marshalJSON(r.PatternMatches)
	if err != nil {
		return err
	}
	multipliers, err := marshalJSON(r.AppliedMultipliers)
	if err != nil {
		return err
	}
	recommendations, err := marshalJSON(r.Recommendations)
	if err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.CommunicationID = communicationID

	result, err := stmt.ExecContext(ctx,
		r.RunID.String(), communicationID, r.CategoryID, r.CategoryName, r.Severity,
		keywords, patterns, multipliers, recommendations,
		r.Confidence, r.MatchWeight, r.RiskScore, int(math.Round(r.FinalRiskScore)),
		boolToInt(r.TriggersAlert), boolToInt(r.TriggersInvestigation), boolToInt(r.TriggersCritical),
		r.Method, r.Reasoning, boolToInt(r.Degraded), r.DegradedReason, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert detection result for %s: %w", r.CategoryName, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get detection result ID: %w", err)
	}
	r.ID = id
	return nil
}

// ListDetectionResults returns every detection result of a communication
// across all analysis runs, oldest first.
func (s *SQLiteStorage) ListDetectionResults(ctx context.Context, communicationID string) ([]model.DetectionResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(communicationID, "communication id"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, communication_id, category_id, category_name, severity,
			matched_keywords, pattern_matches, applied_multipliers, recommendations,
			confidence, match_weight, risk_score, final_risk_score,
			triggers_alert, triggers_investigation, triggers_critical,
			analysis_method, reasoning, degraded, degraded_reason, created_at
		FROM detection_results
		WHERE communication_id = ?
		ORDER BY id`, communicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.DetectionResult
	for rows.Next() {
		var r model.DetectionResult
		var runID string
		var keywords, patterns, multipliers, recommendations sql.NullString
		var finalScore int64

		if err := rows.Scan(&r.ID, &runID, &r.CommunicationID, &r.CategoryID, &r.CategoryName, &r.Severity,
			&keywords, &patterns, &multipliers, &recommendations,
			&r.Confidence, &r.MatchWeight, &r.RiskScore, &finalScore,
			&r.TriggersAlert, &r.TriggersInvestigation, &r.TriggersCritical,
			&r.Method, &r.Reasoning, &r.Degraded, &r.DegradedReason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection result: %w", err)
		}

		if err := r.RunID.UnmarshalText([]byte(runID)); err != nil {
			return nil, fmt.Errorf("invalid run ID %q: %w", runID, err)
		}
		r.FinalRiskScore = float64(finalScore)
		for _, decode := range []struct {
			col  sql.NullString
			dest any
		}{
			{keywords, &r.MatchedKeywords},
			{patterns, &r.PatternMatches},
			{multipliers, &r.AppliedMultipliers},
			{recommendations, &r.Recommendations},
		} {
			if err := unmarshalJSON(decode.col, decode.dest); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanCommunication(row rowScanner) (*model.Communication, error) {
	var c model.Communication
	var recipients, attachments, flags sql.NullString
	var analyzedAt sql.NullTime

	err := row.Scan(&c.ID, &c.EmployeeID, &c.Sender, &recipients, &c.Subject, &c.Body, &attachments,
		&c.Channel, &c.SentAt, &c.IsExternal, &c.Analysis.RiskScore, &flags, &c.Analysis.Category,
		&c.Analysis.IsAnalyzed, &c.Analysis.IsFlagged, &analyzedAt, &c.Analysis.AnalyzerVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan communication: %w", err)
	}

	if err := unmarshalJSON(recipients, &c.Recipients); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(attachments, &c.Attachments); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(flags, &c.Analysis.RiskFlags); err != nil {
		return nil, err
	}
	if analyzedAt.Valid {
		c.Analysis.AnalyzedAt = analyzedAt.Time
	}
	return &c, nil
}
