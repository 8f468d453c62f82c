// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ratelimit limits the bandwidth of accepted client connections.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// minBurstSize must be bigger than the biggest single read or write.
const minBurstSize = 4 * 1024 * 1024

// newRateLimiter returns a limiter of bandwidth bytes per second.
// The burst scales with the bandwidth above 2Gbit/s.
func newRateLimiter(bandwidth int64) *rate.Limiter {
	burst := bandwidth / 64
	if burst < minBurstSize {
		burst = minBurstSize
	}
	return rate.NewLimiter(rate.Limit(bandwidth), int(burst))
}
