package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
)

// UpsertEmployee inserts an employee or updates the mutable fields of an existing one.
func (s *SQLiteStorage) UpsertEmployee(ctx context.Context, employee *model.Employee) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEmployee(employee); err != nil {
		return err
	}
	if employee.TimeZone != "" {
		if _, err := time.LoadLocation(employee.TimeZone); err != nil {
			return fmt.Errorf("%w: time zone %q: %v", ErrInvalidEmployee, employee.TimeZone, err)
		}
	}
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, email, name, department, time_zone, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			department = excluded.department,
			time_zone = excluded.time_zone,
			is_active = excluded.is_active`,
		employee.ID, employee.Email, employee.Name, employee.Department,
		employee.TimeZone, boolToInt(employee.IsActive), employee.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert employee: %w", err)
	}
	return nil
}

// GetEmployee returns one employee.
func (s *SQLiteStorage) GetEmployee(ctx context.Context, id string) (*model.Employee, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "employee id"); err != nil {
		return nil, err
	}

	var e model.Employee
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, department, time_zone, is_active, created_at
		FROM employees WHERE id = ?`, id).
		Scan(&e.ID, &e.Email, &e.Name, &e.Department, &e.TimeZone, &e.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("employee", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time
	}
	return &e, nil
}

// ListEmployees returns employees ordered by ID.
func (s *SQLiteStorage) ListEmployees(ctx context.Context, activeOnly bool) ([]model.Employee, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, email, name, department, time_zone, is_active, created_at FROM employees`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var employees []model.Employee
	for rows.Next() {
		var e model.Employee
		var createdAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Email, &e.Name, &e.Department, &e.TimeZone, &e.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		if createdAt.Valid {
			e.CreatedAt = createdAt.Time
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// SaveRiskProfile replaces the stored risk profile of an employee.
func (s *SQLiteStorage) SaveRiskProfile(ctx context.Context, profile *model.EmployeeRiskProfile) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("%w: risk profile", ErrNilParameter)
	}
	if err := validateString(profile.EmployeeID, "employee id"); err != nil {
		return err
	}

	var commComponent sql.NullFloat64
	if profile.CommunicationComponent != nil {
		commComponent = sql.NullFloat64{Float64: *profile.CommunicationComponent, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employee_risk_profiles (
			employee_id, risk_score, risk_level, communication_component,
			violation_component, communication_count, active_violation_count, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			risk_score = excluded.risk_score,
			risk_level = excluded.risk_level,
			communication_component = excluded.communication_component,
			violation_component = excluded.violation_component,
			communication_count = excluded.communication_count,
			active_violation_count = excluded.active_violation_count,
			last_updated = excluded.last_updated`,
		profile.EmployeeID, profile.RiskScore, profile.RiskLevel, commComponent,
		profile.ViolationComponent, profile.CommunicationCount, profile.ActiveViolationCount,
		profile.LastUpdated.UTC())
	if err != nil {
		return fmt.Errorf("failed to save risk profile: %w", err)
	}
	return nil
}

// GetRiskProfile returns the last computed risk profile of an employee.
func (s *SQLiteStorage) GetRiskProfile(ctx context.Context, employeeID string) (*model.EmployeeRiskProfile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(employeeID, "employee id"); err != nil {
		return nil, err
	}

	var p model.EmployeeRiskProfile
	var commComponent sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT employee_id, risk_score, risk_level, communication_component,
			violation_component, communication_count, active_violation_count, last_updated
		FROM employee_risk_profiles WHERE employee_id = ?`, employeeID).
		Scan(&p.EmployeeID, &p.RiskScore, &p.RiskLevel, &commComponent,
			&p.ViolationComponent, &p.CommunicationCount, &p.ActiveViolationCount, &p.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("risk profile", employeeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk profile: %w", err)
	}
	if commComponent.Valid {
		v := commComponent.Float64
		p.CommunicationComponent = &v
	}
	return &p, nil
}
