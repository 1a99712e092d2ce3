package detection

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Veraticus/tripwire/internal/model"
)

// FrequencyCounter counts communications an employee sent in a time range.
type FrequencyCounter interface {
	CountSentBetween(ctx context.Context, employeeID string, start, end time.Time) (int, error)
}

// ContextBuilder computes the risk factors present on a communication.
type ContextBuilder struct {
	counter FrequencyCounter
	cfg     Config
}

// NewContextBuilder creates a context builder. A nil counter disables the
// high-frequency factor.
func NewContextBuilder(counter FrequencyCounter, cfg Config) *ContextBuilder {
	return &ContextBuilder{counter: counter, cfg: cfg.withDefaults()}
}

// Build evaluates every known risk factor once for the communication. Time
// based factors use the employee's time zone.
func (b *ContextBuilder) Build(ctx context.Context, comm *model.Communication, employee *model.Employee) (model.RiskContext, error) {
	factors := make(map[model.RiskFactor]bool, len(model.KnownRiskFactors))

	loc := employee.Location()
	local := comm.SentAt.In(loc)
	factors[model.FactorAfterHours] = b.cfg.IsAfterHours(comm.SentAt, loc)
	factors[model.FactorWeekend] = local.Weekday() == time.Saturday || local.Weekday() == time.Sunday

	factors[model.FactorExternalRecipient] = comm.IsExternal
	factors[model.FactorBulkRecipients] = len(comm.Recipients) >= b.cfg.BulkRecipients
	factors[model.FactorLargeAttachment] = comm.TotalAttachmentBytes() >= b.cfg.LargeAttachmentBytes

	for _, a := range comm.Attachments {
		if slices.Contains(b.cfg.SensitiveExtensions, a.Extension()) {
			factors[model.FactorSensitiveAttachment] = true
			break
		}
	}

	if b.counter != nil && comm.EmployeeID != "" {
		count, err := b.counter.CountSentBetween(ctx, comm.EmployeeID, comm.SentAt.Add(-b.cfg.FrequencyWindow), comm.SentAt)
		if err != nil {
			return model.RiskContext{}, fmt.Errorf("failed to count recent communications: %w", err)
		}
		factors[model.FactorHighFrequency] = count >= b.cfg.FrequencyThreshold
	}

	return model.RiskContext{Factors: factors}, nil
}
