package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }

func TestAvailabilityRuleAppliesTo(t *testing.T) {
	monday := date(2026, 3, 2) // a Monday
	tuesday := date(2026, 3, 3)

	t.Run("recurring matches weekday only", func(t *testing.T) {
		r := &AvailabilityRule{DayOfWeek: time.Monday, Recurring: true}
		assert.True(t, r.AppliesTo(monday))
		assert.False(t, r.AppliesTo(tuesday))
	})

	t.Run("bounded rule honors effective range", func(t *testing.T) {
		from := date(2026, 3, 1)
		to := date(2026, 3, 8)
		r := &AvailabilityRule{DayOfWeek: time.Monday, EffectiveFrom: &from, EffectiveTo: &to}

		assert.True(t, r.AppliesTo(monday))
		assert.False(t, r.AppliesTo(date(2026, 3, 9)))  // next Monday, past range
		assert.False(t, r.AppliesTo(date(2026, 2, 23))) // Monday before range
	})

	t.Run("missing bound is unbounded", func(t *testing.T) {
		from := date(2026, 3, 1)
		r := &AvailabilityRule{DayOfWeek: time.Monday, EffectiveFrom: &from}
		assert.True(t, r.AppliesTo(date(2026, 12, 28))) // far future Monday

		to := date(2026, 3, 8)
		r = &AvailabilityRule{DayOfWeek: time.Monday, EffectiveTo: &to}
		assert.True(t, r.AppliesTo(date(2026, 1, 5))) // Monday long before
	})

	t.Run("range bounds are inclusive", func(t *testing.T) {
		from := monday
		to := monday
		r := &AvailabilityRule{DayOfWeek: time.Monday, EffectiveFrom: &from, EffectiveTo: &to}
		assert.True(t, r.AppliesTo(monday))
	})
}

func TestProviderExceptionIsFullDay(t *testing.T) {
	assert.True(t, (&ProviderException{}).IsFullDay())
	assert.True(t, (&ProviderException{StartMinute: intPtr(0)}).IsFullDay())
	assert.True(t, (&ProviderException{StartMinute: intPtr(0), EndMinute: intPtr(1440)}).IsFullDay())
	assert.False(t, (&ProviderException{StartMinute: intPtr(600), EndMinute: intPtr(660)}).IsFullDay())
}

func TestBusinessExceptionHasTimes(t *testing.T) {
	assert.False(t, (&BusinessException{}).HasTimes())
	assert.False(t, (&BusinessException{StartMinute: intPtr(600)}).HasTimes())
	assert.True(t, (&BusinessException{StartMinute: intPtr(600), EndMinute: intPtr(660)}).HasTimes())
}

func TestBusinessHolidayMatches(t *testing.T) {
	t.Run("fixed matches exact date", func(t *testing.T) {
		h := &BusinessHoliday{Date: date(2026, 7, 4)}
		assert.True(t, h.Matches(date(2026, 7, 4)))
		assert.False(t, h.Matches(date(2027, 7, 4)))
	})

	t.Run("recurring matches month and day across years", func(t *testing.T) {
		h := &BusinessHoliday{Date: date(2020, 12, 25), Recurring: true}
		assert.True(t, h.Matches(date(2026, 12, 25)))
		assert.True(t, h.Matches(date(2031, 12, 25)))
		assert.False(t, h.Matches(date(2026, 12, 24)))
	})
}
