// Package seeder generates realistic PII-bearing events for development
// and load testing. The generated payloads exercise every field the
// default masking policy covers.
package seeder

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/veilstream/veilstream/internal/model"
)

// GenerateEvent creates a single synthetic event. Events are spread
// backwards from now across timeSpread with jitter, so audit and
// staleness behavior can be exercised with a single seed run.
func GenerateEvent(index, totalCount int, timeSpread time.Duration) model.RawEvent {
	now := time.Now().UTC()

	var eventTime time.Time
	if timeSpread > 0 && totalCount > 0 {
		baseInterval := float64(timeSpread) / float64(totalCount)
		baseOffset := time.Duration(float64(index) * baseInterval)

		jitterRange := baseInterval * 0.4
		jitter := time.Duration((rand.Float64()*2.0 - 1.0) * jitterRange)

		totalOffset := baseOffset + jitter
		if totalOffset < 0 {
			totalOffset = 0
		}
		if totalOffset > timeSpread {
			totalOffset = timeSpread
		}

		eventTime = now.Add(-(timeSpread - totalOffset))
	} else {
		eventTime = now
	}

	return model.RawEvent{
		EventID:         uuid.New().String(),
		Payload:         generatePayload(),
		SourceTimestamp: eventTime,
	}
}

func generatePayload() map[string]any {
	payload := map[string]any{
		"email":      gofakeit.Email(),
		"phone":      gofakeit.Phone(),
		"name":       gofakeit.Name(),
		"address":    gofakeit.Address().Address,
		"ip_address": gofakeit.IPv4Address(),
		"user_agent": gofakeit.UserAgent(),
		"action":     gofakeit.RandomString([]string{"login", "purchase", "update_profile", "support_request"}),
	}

	// Sprinkle in the higher-sensitivity fields so PARTIAL and tokenize
	// paths get traffic too.
	if gofakeit.Bool() {
		payload["ssn"] = gofakeit.SSN()
	}
	if rand.Intn(4) == 0 {
		payload["credit_card"] = gofakeit.CreditCardNumber(nil)
	}
	if rand.Intn(4) == 0 {
		payload["date_of_birth"] = gofakeit.DateRange(
			time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2005, 12, 31, 0, 0, 0, 0, time.UTC),
		).Format("2006-01-02")
	}

	return payload
}

// Summary prints a short description of a generated batch.
func Summary(count int, spread time.Duration) string {
	if spread > 0 {
		return fmt.Sprintf("%d events spread across the last %s", count, spread)
	}
	return fmt.Sprintf("%d events timestamped now", count)
}
