package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Veraticus/tripwire/internal/category"
	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/mattn/go-sqlite3"
)

const categoryColumns = `id, name, description, type, industry, severity, base_risk_score,
	alert_threshold, investigation_threshold, critical_threshold,
	detection_patterns, risk_multipliers, is_active, llm_fallback, created_at, updated_at`

// CreateCategory validates and inserts a category with its keywords.
// On success def.Category.ID and the keyword IDs are populated.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, def *model.CategoryDefinition) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if def == nil {
		return fmt.Errorf("%w: category definition", ErrNilParameter)
	}
	if err := category.Validate(&def.Category, def.Keywords); err != nil {
		return err
	}

	patterns, multipliers, err := encodeCategoryJSON(&def.Category)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		c := &def.Category
		result, err := tx.ExecContext(ctx, `
			INSERT INTO threat_categories (
				name, description, type, industry, severity, base_risk_score,
				alert_threshold, investigation_threshold, critical_threshold,
				detection_patterns, risk_multipliers, is_active, llm_fallback,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Name, c.Description, c.Type, c.Industry, c.Severity, c.BaseRiskScore,
			c.Thresholds.Alert, c.Thresholds.Investigation, c.Thresholds.Critical,
			patterns, multipliers, boolToInt(c.IsActive), boolToInt(c.LLMFallback),
			now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: category %q", common.ErrDuplicateEntry, c.Name)
			}
			return fmt.Errorf("failed to insert category: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get category ID: %w", err)
		}
		c.ID = int(id)
		c.CreatedAt = now
		c.UpdatedAt = now

		return insertKeywords(ctx, tx, c.ID, def.Keywords, now)
	})
}

// UpdateCategory validates and replaces a category and its keyword set.
func (s *SQLiteStorage) UpdateCategory(ctx context.Context, def *model.CategoryDefinition) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if def == nil {
		return fmt.Errorf("%w: category definition", ErrNilParameter)
	}
	if err := category.Validate(&def.Category, def.Keywords); err != nil {
		return err
	}

	patterns, multipliers, err := encodeCategoryJSON(&def.Category)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		c := &def.Category
		result, err := tx.ExecContext(ctx, `
			UPDATE threat_categories SET
				name = ?, description = ?, type = ?, industry = ?, severity = ?,
				base_risk_score = ?, alert_threshold = ?, investigation_threshold = ?,
				critical_threshold = ?, detection_patterns = ?, risk_multipliers = ?,
				is_active = ?, llm_fallback = ?, updated_at = ?
			WHERE id = ?`,
			c.Name, c.Description, c.Type, c.Industry, c.Severity,
			c.BaseRiskScore, c.Thresholds.Alert, c.Thresholds.Investigation,
			c.Thresholds.Critical, patterns, multipliers,
			boolToInt(c.IsActive), boolToInt(c.LLMFallback), now,
			c.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: category %q", common.ErrDuplicateEntry, c.Name)
			}
			return fmt.Errorf("failed to update category: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return common.NewNotFoundError("category", strconv.Itoa(c.ID))
		}
		c.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `DELETE FROM category_keywords WHERE category_id = ?`, c.ID); err != nil {
			return fmt.Errorf("failed to clear category keywords: %w", err)
		}
		return insertKeywords(ctx, tx, c.ID, def.Keywords, now)
	})
}

// GetCategory returns a category and its keywords by ID.
func (s *SQLiteStorage) GetCategory(ctx context.Context, id int) (*model.CategoryDefinition, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM threat_categories WHERE id = ?`, id)
	def, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("category", strconv.Itoa(id))
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadKeywords(ctx, []*model.CategoryDefinition{def}); err != nil {
		return nil, err
	}
	return def, nil
}

// GetCategoryByName returns a category by its case-insensitive name.
func (s *SQLiteStorage) GetCategoryByName(ctx context.Context, name string) (*model.CategoryDefinition, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM threat_categories WHERE name = ?`, name)
	def, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("category", name)
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadKeywords(ctx, []*model.CategoryDefinition{def}); err != nil {
		return nil, err
	}
	return def, nil
}

// ListCategories returns categories ordered by ID.
func (s *SQLiteStorage) ListCategories(ctx context.Context, activeOnly bool) ([]model.CategoryDefinition, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + categoryColumns + ` FROM threat_categories`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []*model.CategoryDefinition
	for rows.Next() {
		def, scanErr := scanCategory(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	if err := s.loadKeywords(ctx, defs); err != nil {
		return nil, err
	}

	out := make([]model.CategoryDefinition, len(defs))
	for i, def := range defs {
		out[i] = *def
	}
	return out, nil
}

// SetCategoryActive toggles whether a category takes part in analysis.
func (s *SQLiteStorage) SetCategoryActive(ctx context.Context, id int, active bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE threat_categories SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return common.NewNotFoundError("category", strconv.Itoa(id))
	}
	return nil
}

func (s *SQLiteStorage) loadKeywords(ctx context.Context, defs []*model.CategoryDefinition) error {
	if len(defs) == 0 {
		return nil
	}

	byID := make(map[int]*model.CategoryDefinition, len(defs))
	for _, def := range defs {
		byID[def.Category.ID] = def
		def.Keywords = []model.CategoryKeyword{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, keyword, weight, is_phrase, required_context, created_at
		FROM category_keywords
		ORDER BY category_id, id`)
	if err != nil {
		return fmt.Errorf("failed to query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kw model.CategoryKeyword
		var createdAt sql.NullTime
		if err := rows.Scan(&kw.ID, &kw.CategoryID, &kw.Keyword, &kw.Weight,
			&kw.IsPhrase, &kw.RequiredContext, &createdAt); err != nil {
			return fmt.Errorf("failed to scan keyword: %w", err)
		}
		if createdAt.Valid {
			kw.CreatedAt = createdAt.Time
		}
		if def, ok := byID[kw.CategoryID]; ok {
			def.Keywords = append(def.Keywords, kw)
		}
	}
	return rows.Err()
}

func insertKeywords(ctx context.Context, tx *sql.Tx, categoryID int, keywords []model.CategoryKeyword, now time.Time) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO category_keywords (category_id, keyword, weight, is_phrase, required_context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare keyword insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range keywords {
		kw := &keywords[i]
		result, err := stmt.ExecContext(ctx, categoryID, kw.Keyword, kw.Weight,
			boolToInt(kw.IsPhrase), kw.RequiredContext, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: keyword %q", common.ErrDuplicateEntry, kw.Keyword)
			}
			return fmt.Errorf("failed to insert keyword %q: %w", kw.Keyword, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get keyword ID: %w", err)
		}
		kw.ID = int(id)
		kw.CategoryID = categoryID
		kw.CreatedAt = now
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*model.CategoryDefinition, error) {
	var def model.CategoryDefinition
	var patterns, multipliers sql.NullString
	var createdAt, updatedAt sql.NullTime
	c := &def.Category

	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Type, &c.Industry, &c.Severity,
		&c.BaseRiskScore, &c.Thresholds.Alert, &c.Thresholds.Investigation, &c.Thresholds.Critical,
		&patterns, &multipliers, &c.IsActive, &c.LLMFallback, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}

	if err := unmarshalJSON(patterns, &c.DetectionPatterns); err != nil {
		return nil, fmt.Errorf("category %q patterns: %w", c.Name, err)
	}
	if err := unmarshalJSON(multipliers, &c.RiskMultipliers); err != nil {
		return nil, fmt.Errorf("category %q multipliers: %w", c.Name, err)
	}
	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}
	return &def, nil
}

func encodeCategoryJSON(c *model.ThreatCategory) (patterns, multipliers string, err error) {
	patterns, err = marshalJSON(c.DetectionPatterns)
	if err != nil {
		return "", "", err
	}
	multipliers, err = marshalJSON(c.RiskMultipliers)
	if err != nil {
		return "", "", err
	}
	return patterns, multipliers, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
