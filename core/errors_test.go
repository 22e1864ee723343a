package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/layer-3/signet/core"
)

func TestReasonFor(t *testing.T) {
	testCases := map[string]struct {
		err  error
		want core.FailureReason
	}{
		"nil":              {nil, ""},
		"expired token":    {core.ErrTokenExpired, core.ReasonInvalidToken},
		"wrapped token":    {fmt.Errorf("parse: %w", core.ErrInvalidToken), core.ReasonInvalidToken},
		"missing session":  {core.ErrSessionNotFound, core.ReasonSessionInvalid},
		"device changed":   {core.ErrDeviceMismatch, core.ReasonSessionInvalid},
		"address hijack":   {core.ErrAddressMismatch, core.ReasonSessionInvalid},
		"blacklisted":      {core.ErrSessionBlacklisted, core.ReasonSessionInvalid},
		"store failure":    {fmt.Errorf("get: %w", core.ErrStoreOperationFailed), core.ReasonVerificationFailed},
		"unexpected error": {errors.New("boom"), core.ReasonVerificationFailed},
	}

	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, core.ReasonFor(tc.err))
		})
	}
}
