package ratelimit

import (
	"math"
	"time"
)

// Category names an endpoint family with its own limiter instance.
type Category string

const (
	CategoryNonce         Category = "nonce"
	CategoryVerify        Category = "verify"
	CategoryCheck         Category = "check"
	CategoryLogout        Category = "logout"
	CategoryBlacklist     Category = "blacklist"

	// Not routed by this server; host applications that mount draft, like
	// or campaign endpoints pick their limits from here.
	CategoryDraft         Category = "draft"
	CategoryLike          Category = "like"
	CategoryUserCampaigns Category = "user_campaigns"
)

// Policy bounds requests per identifier over a trailing window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultPolicies are the per-category limits used when nothing overrides them.
var DefaultPolicies = map[Category]Policy{
	CategoryNonce:         {MaxRequests: 10, Window: time.Minute},
	CategoryVerify:        {MaxRequests: 5, Window: time.Minute},
	CategoryCheck:         {MaxRequests: 60, Window: time.Minute},
	CategoryLogout:        {MaxRequests: 10, Window: time.Minute},
	CategoryBlacklist:     {MaxRequests: 5, Window: time.Minute},
	CategoryDraft:         {MaxRequests: 30, Window: time.Minute},
	CategoryLike:          {MaxRequests: 20, Window: time.Minute},
	CategoryUserCampaigns: {MaxRequests: 60, Window: time.Minute},
}

// RetryAfterSeconds rounds the window up to whole seconds for the Retry-After header.
func RetryAfterSeconds(window time.Duration) int {
	return int(math.Ceil(window.Seconds()))
}
