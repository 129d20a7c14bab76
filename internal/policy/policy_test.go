package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

func TestExemptionPolicy_IsExempt(t *testing.T) {
	p := DefaultExemptionPolicy("com.focusd.applock")

	tests := []struct {
		name string
		pkg  string
		want bool
	}{
		{"host package", "com.focusd.applock", true},
		{"system ui", "com.android.systemui", true},
		{"launcher", "com.android.launcher3", true},
		{"regular app", "com.instagram.android", false},
		{"prefix must be at start", "org.example.com.android", false},
		{"host prefix is not exempt", "com.focusd.applock.helper", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsExempt(tt.pkg))
		})
	}
}

func TestNewExemptionPolicy_IgnoresBlankPrefixes(t *testing.T) {
	p := NewExemptionPolicy("", "  ", "", "Dock")

	assert.True(t, p.IsExempt("Dock"))
	assert.False(t, p.IsExempt("Safari"))
	assert.False(t, p.IsExempt(""), "empty host must not exempt the empty package")
}

func TestValidateAutoUnlock(t *testing.T) {
	for _, m := range AutoUnlockOptions {
		assert.NoError(t, ValidateAutoUnlock(m), "minutes=%d", m)
	}

	for _, m := range []int{-5, 0, 1, 25, 121} {
		err := ValidateAutoUnlock(m)
		assert.True(t, errors.Is(err, domain.ErrInvalidDuration), "minutes=%d", m)
	}
}
