package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verbatimhq/verbatim/core/schema"
)

type UsageStore struct {
	db *gorm.DB
}

// PeriodStart truncates t to the first instant of its month in UTC, the
// billing period granularity of usage counters.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextPeriod returns the reset instant following the period containing t.
func NextPeriod(t time.Time) time.Time {
	return PeriodStart(t).AddDate(0, 1, 0)
}

// ensureCounter inserts the period row if it does not exist yet, copying the
// configured organization limit (missing limit row means unlimited). Insert
// conflicts from concurrent callers are ignored: the row exists either way.
func (s *UsageStore) ensureCounter(ctx context.Context, org string, mode schema.TranscriptionMode, period time.Time) error {
	var limit OrganizationLimitRow
	limitMinutes := schema.UnlimitedMinutes
	err := s.db.WithContext(ctx).First(&limit, "organization_id = ? AND mode = ?", org, string(mode)).Error
	if err == nil {
		limitMinutes = limit.LimitMinutes
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("loading limit for %s/%s: %w", org, mode, err)
	}

	row := UsageCounterRow{
		OrganizationID: org,
		Mode:           string(mode),
		PeriodStart:    period,
		LimitMinutes:   limitMinutes,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("creating usage counter for %s/%s: %w", org, mode, err)
	}
	return nil
}

// Reserve atomically adds minutes to the counter when the limit allows it.
// The check and the increment are one conditional UPDATE, so concurrent
// reservations can never overshoot the limit. It returns the counter as of
// after the attempt and whether the reservation was granted.
func (s *UsageStore) Reserve(ctx context.Context, org string, mode schema.TranscriptionMode, now time.Time, minutes float64) (schema.UsageCounter, bool, error) {
	if minutes < 0 {
		return schema.UsageCounter{}, false, fmt.Errorf("negative reservation of %f minutes", minutes)
	}
	period := PeriodStart(now)
	if err := s.ensureCounter(ctx, org, mode, period); err != nil {
		return schema.UsageCounter{}, false, err
	}

	res := s.db.WithContext(ctx).Model(&UsageCounterRow{}).
		Where("organization_id = ? AND mode = ? AND period_start = ?", org, string(mode), period).
		Where("limit_minutes < 0 OR consumed_minutes + ? <= limit_minutes", minutes).
		Updates(map[string]interface{}{
			"consumed_minutes": gorm.Expr("consumed_minutes + ?", minutes),
			"request_count":    gorm.Expr("request_count + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return schema.UsageCounter{}, false, fmt.Errorf("reserving usage for %s/%s: %w", org, mode, res.Error)
	}
	granted := res.RowsAffected > 0

	counter, err := s.Get(ctx, org, mode, now)
	if err != nil {
		return schema.UsageCounter{}, false, err
	}
	return counter, granted, nil
}

// Refund returns minutes to the counter, never dropping below zero. Both
// branches are single conditional updates, so racing reservations stay
// intact; a refund racing a reserve at worst under-refunds, it never
// corrupts the counter.
func (s *UsageStore) Refund(ctx context.Context, org string, mode schema.TranscriptionMode, now time.Time, minutes float64) error {
	if minutes <= 0 {
		return nil
	}
	period := PeriodStart(now)
	q := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&UsageCounterRow{}).
			Where("organization_id = ? AND mode = ? AND period_start = ?", org, string(mode), period)
	}
	res := q().Where("consumed_minutes >= ?", minutes).
		Update("consumed_minutes", gorm.Expr("consumed_minutes - ?", minutes))
	if res.Error != nil {
		return fmt.Errorf("refunding usage for %s/%s: %w", org, mode, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := q().Where("consumed_minutes < ?", minutes).
			Update("consumed_minutes", 0).Error; err != nil {
			return fmt.Errorf("refunding usage for %s/%s: %w", org, mode, err)
		}
	}
	return nil
}

// Get returns the counter for the period containing now. A counter that was
// never written reports zero consumption with the configured limit.
func (s *UsageStore) Get(ctx context.Context, org string, mode schema.TranscriptionMode, now time.Time) (schema.UsageCounter, error) {
	period := PeriodStart(now)
	var row UsageCounterRow
	err := s.db.WithContext(ctx).First(&row, "organization_id = ? AND mode = ? AND period_start = ?", org, string(mode), period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		limitMinutes := schema.UnlimitedMinutes
		var limit OrganizationLimitRow
		lerr := s.db.WithContext(ctx).First(&limit, "organization_id = ? AND mode = ?", org, string(mode)).Error
		if lerr == nil {
			limitMinutes = limit.LimitMinutes
		} else if !errors.Is(lerr, gorm.ErrRecordNotFound) {
			return schema.UsageCounter{}, fmt.Errorf("loading limit for %s/%s: %w", org, mode, lerr)
		}
		return schema.UsageCounter{
			OrganizationID: org,
			Mode:           mode,
			PeriodStart:    period,
			LimitMinutes:   limitMinutes,
		}, nil
	}
	if err != nil {
		return schema.UsageCounter{}, fmt.Errorf("loading usage counter for %s/%s: %w", org, mode, err)
	}
	return row.toSchema(), nil
}

// GetAll returns the current-period counters for every mode of one
// organization.
func (s *UsageStore) GetAll(ctx context.Context, org string, now time.Time) ([]schema.UsageCounter, error) {
	out := make([]schema.UsageCounter, 0, 3)
	for _, mode := range []schema.TranscriptionMode{schema.ModeFast, schema.ModeBalanced, schema.ModePrecision} {
		c, err := s.Get(ctx, org, mode, now)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// SetLimit updates the configured allowance for future periods and applies
// it to the current period counter as well.
func (s *UsageStore) SetLimit(ctx context.Context, org string, mode schema.TranscriptionMode, now time.Time, minutes float64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		limit := OrganizationLimitRow{
			OrganizationID: org,
			Mode:           string(mode),
			LimitMinutes:   minutes,
			UpdatedAt:      time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "mode"}},
			DoUpdates: clause.AssignmentColumns([]string{"limit_minutes", "updated_at"}),
		}).Create(&limit).Error; err != nil {
			return fmt.Errorf("setting limit for %s/%s: %w", org, mode, err)
		}

		period := PeriodStart(now)
		res := tx.Model(&UsageCounterRow{}).
			Where("organization_id = ? AND mode = ? AND period_start = ?", org, string(mode), period).
			Update("limit_minutes", minutes)
		return res.Error
	})
}
