// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package headless provides a local forward proxy for authenticated smart proxy services.
// Clients such as headless browsers talk plain HTTP to the proxy, it injects the upstream
// credential, the upstream control headers and a sticky session into every forwarded
// request and CONNECT tunnel.
// The number of concurrent upstream requests is bounded and transient upstream failures
// of idempotent requests are retried with backoff.
package headless
