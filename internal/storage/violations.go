package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/google/uuid"
)

const violationColumns = `id, employee_id, type, description, severity, status, source,
	evidence, structured_evidence, metadata, communication_id, category_id,
	ai_validation_status, ai_validation_score, ai_validation_reasoning,
	ai_recommended_status, ai_validated_at, version, created_at, updated_at, resolved_at`

// CreateViolation inserts a new violation.
func (s *SQLiteStorage) CreateViolation(ctx context.Context, v *model.Violation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateViolation(v); err != nil {
		return err
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Version == 0 {
		v.Version = 1
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.CreatedAt
	}

	evidence, err := marshalJSON(v.Evidence)
	if err != nil {
		return err
	}
	structured, err := marshalJSON(v.StructuredEvidence)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(v.Metadata)
	if err != nil {
		return err
	}

	var aiStatus, aiReasoning, aiRecommended sql.NullString
	var aiScore sql.NullFloat64
	var aiValidatedAt sql.NullTime
	if v.AIValidation != nil {
		aiStatus = sql.NullString{String: string(v.AIValidation.Status), Valid: true}
		aiReasoning = sql.NullString{String: v.AIValidation.Reasoning, Valid: true}
		aiRecommended = sql.NullString{String: string(v.AIValidation.RecommendedStatus), Valid: true}
		aiScore = sql.NullFloat64{Float64: v.AIValidation.Score, Valid: true}
		aiValidatedAt = nullTime(v.AIValidation.ValidatedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO violations (
			id, employee_id, type, description, severity, status, source,
			evidence, structured_evidence, metadata, communication_id, category_id,
			ai_validation_status, ai_validation_score, ai_validation_reasoning,
			ai_recommended_status, ai_validated_at, version, created_at, updated_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.EmployeeID, v.Type, v.Description, v.Severity, v.Status, v.Source,
		evidence, structured, metadata, v.CommunicationID, v.CategoryID,
		aiStatus, aiScore, aiReasoning, aiRecommended, aiValidatedAt,
		v.Version, v.CreatedAt.UTC(), v.UpdatedAt.UTC(), nullTime(v.ResolvedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: violation %s", common.ErrDuplicateEntry, v.ID)
		}
		return fmt.Errorf("failed to insert violation: %w", err)
	}
	return nil
}

// GetViolation returns one violation.
func (s *SQLiteStorage) GetViolation(ctx context.Context, id uuid.UUID) (*model.Violation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+violationColumns+` FROM violations WHERE id = ?`, id.String())
	v, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("violation", id.String())
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListViolations returns violations matching filter, newest first.
func (s *SQLiteStorage) ListViolations(ctx context.Context, filter service.ViolationFilter) ([]model.Violation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var conditions []string
	var args []any
	if filter.EmployeeID != "" {
		conditions = append(conditions, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + violationColumns + ` FROM violations`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var violations []model.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		violations = append(violations, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violations: %w", err)
	}
	return violations, nil
}

// FindOpenViolation returns the oldest Active or Investigating violation
// raised for a communication and category.
func (s *SQLiteStorage) FindOpenViolation(ctx context.Context, communicationID string, categoryID int) (*model.Violation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(communicationID, "communication id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+violationColumns+` FROM violations
		WHERE communication_id = ? AND category_id = ? AND status IN (?, ?)
		ORDER BY created_at, id
		LIMIT 1`,
		communicationID, categoryID, string(model.StatusActive), string(model.StatusInvestigating))
	v, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("open violation", fmt.Sprintf("%s/%d", communicationID, categoryID))
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// UpdateViolationStatus writes v's status only if the stored version still
// equals expectedVersion, then appends entry. Both happen in one transaction.
// A stale version returns *common.ConflictError carrying the stored version.
func (s *SQLiteStorage) UpdateViolationStatus(ctx context.Context, v *model.Violation, expectedVersion int, entry *model.ViolationStatusHistory) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateViolation(v); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: status history entry", ErrNilParameter)
	}
	if err := validateString(entry.Reason, "reason"); err != nil {
		return err
	}

	metadata, err := marshalJSON(v.Metadata)
	if err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	newVersion := expectedVersion + 1

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE violations SET
				status = ?, metadata = ?, updated_at = ?, resolved_at = ?, version = ?
			WHERE id = ? AND version = ?`,
			v.Status, metadata, v.UpdatedAt.UTC(), nullTime(v.ResolvedAt), newVersion,
			v.ID.String(), expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update violation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			var actual int
			err := tx.QueryRowContext(ctx, `SELECT version FROM violations WHERE id = ?`, v.ID.String()).Scan(&actual)
			if errors.Is(err, sql.ErrNoRows) {
				return common.NewNotFoundError("violation", v.ID.String())
			}
			if err != nil {
				return fmt.Errorf("failed to read violation version: %w", err)
			}
			return &common.ConflictError{ID: v.ID.String(), ExpectedVersion: expectedVersion, ActualVersion: actual}
		}

		var aiConfidence sql.NullFloat64
		if entry.AIConfidence != nil {
			aiConfidence = sql.NullFloat64{Float64: *entry.AIConfidence, Valid: true}
		}
		result, err = tx.ExecContext(ctx, `
			INSERT INTO violation_status_history (
				violation_id, previous_status, new_status, reason, ai_assisted, ai_confidence, actor, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID.String(), entry.PreviousStatus, entry.NewStatus, entry.Reason,
			boolToInt(entry.AIAssisted), aiConfidence, entry.Actor, entry.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert status history: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get history ID: %w", err)
		}
		entry.ID = id
		entry.ViolationID = v.ID
		return nil
	})
	if err != nil {
		return err
	}

	v.Version = newVersion
	return nil
}

// SaveAIValidation stores the advisory AI verdict. It does not change the
// violation's status or version.
func (s *SQLiteStorage) SaveAIValidation(ctx context.Context, id uuid.UUID, validation model.AIValidation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE violations SET
			ai_validation_status = ?, ai_validation_score = ?, ai_validation_reasoning = ?,
			ai_recommended_status = ?, ai_validated_at = ?
		WHERE id = ?`,
		validation.Status, validation.Score, validation.Reasoning,
		validation.RecommendedStatus, nullTime(validation.ValidatedAt), id.String())
	if err != nil {
		return fmt.Errorf("failed to save AI validation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return common.NewNotFoundError("violation", id.String())
	}
	return nil
}

// ListViolationHistory returns the transition audit trail, oldest first.
func (s *SQLiteStorage) ListViolationHistory(ctx context.Context, id uuid.UUID) ([]model.ViolationStatusHistory, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, previous_status, new_status, reason, ai_assisted, ai_confidence, actor, created_at
		FROM violation_status_history
		WHERE violation_id = ?
		ORDER BY id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []model.ViolationStatusHistory
	for rows.Next() {
		var h model.ViolationStatusHistory
		var aiConfidence sql.NullFloat64
		if err := rows.Scan(&h.ID, &h.PreviousStatus, &h.NewStatus, &h.Reason,
			&h.AIAssisted, &aiConfidence, &h.Actor, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		if aiConfidence.Valid {
			c := aiConfidence.Float64
			h.AIConfidence = &c
		}
		h.ViolationID = id
		history = append(history, h)
	}
	return history, rows.Err()
}

func scanViolation(row rowScanner) (*model.Violation, error) {
	var v model.Violation
	var id string
	var evidence, structured, metadata sql.NullString
	var aiStatus, aiReasoning, aiRecommended sql.NullString
	var aiScore sql.NullFloat64
	var aiValidatedAt, resolvedAt sql.NullTime

	err := row.Scan(&id, &v.EmployeeID, &v.Type, &v.Description, &v.Severity, &v.Status, &v.Source,
		&evidence, &structured, &metadata, &v.CommunicationID, &v.CategoryID,
		&aiStatus, &aiScore, &aiReasoning, &aiRecommended, &aiValidatedAt,
		&v.Version, &v.CreatedAt, &v.UpdatedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan violation: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid violation ID %q: %w", id, err)
	}
	v.ID = parsed

	if err := unmarshalJSON(evidence, &v.Evidence); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(structured, &v.StructuredEvidence); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &v.Metadata); err != nil {
		return nil, err
	}
	v.ResolvedAt = timePtr(resolvedAt)

	if aiStatus.Valid {
		v.AIValidation = &model.AIValidation{
			Status:            model.AIValidationStatus(aiStatus.String),
			Score:             aiScore.Float64,
			Reasoning:         aiReasoning.String,
			RecommendedStatus: model.ViolationStatus(aiRecommended.String),
			ValidatedAt:       timePtr(aiValidatedAt),
		}
	}
	return &v, nil
}
