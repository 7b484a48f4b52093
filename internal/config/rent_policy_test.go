package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRentPolicyIsValid(t *testing.T) {
	require.NoError(t, validateRentPolicy(DefaultRentPolicy()))
}

func TestValidateRentPolicyRejectsBadValues(t *testing.T) {
	cases := map[string]func(p *RentPolicy){
		"currency":     func(p *RentPolicy) { p.Currency = "dollars" },
		"grace":        func(p *RentPolicy) { p.GraceDays = -1 },
		"late fee":     func(p *RentPolicy) { p.LateFeeFlat = -10 },
		"recent limit": func(p *RentPolicy) { p.RecentPaidLimit = 0 },
		"success path": func(p *RentPolicy) { p.SuccessPath = "/done" },
		"schedule":     func(p *RentPolicy) { p.OverdueSweepSchedule = "every day" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultRentPolicy()
			mutate(&p)
			assert.Error(t, validateRentPolicy(p))
		})
	}
}

func TestRentPolicyRedirectURLs(t *testing.T) {
	p := DefaultRentPolicy()
	assert.Equal(t, "https://app.example.com/payments/success?receipt=RCP-1", p.SuccessURL("https://app.example.com", "RCP-1"))
	assert.Equal(t, "https://app.example.com/payments/cancel?receipt=RCP-1", p.CancelURL("https://app.example.com", "RCP-1"))
}

func TestRentPolicyLateFeeRoundsToCents(t *testing.T) {
	p := DefaultRentPolicy()
	p.LateFeeFlat = 25.005
	assert.Equal(t, "25.01", p.LateFee().StringFixed(2))
}
