// RouteGuard - Route-level authentication, authorization and CSRF pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/routeguard

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStrategy(t *testing.T) {
	before := testutil.ToFloat64(AuthAttempts.WithLabelValues("metrics-test", OutcomeSuccess))

	RecordStrategy("metrics-test", OutcomeSuccess, 2*time.Millisecond)
	RecordStrategy("metrics-test", OutcomeSuccess, time.Millisecond)

	after := testutil.ToFloat64(AuthAttempts.WithLabelValues("metrics-test", OutcomeSuccess))
	if after-before != 2 {
		t.Errorf("attempts increased by %v, want 2", after-before)
	}
}

func TestRecordChainDecision(t *testing.T) {
	before := testutil.ToFloat64(ChainDecisions.WithLabelValues("exhausted"))
	RecordChainDecision("exhausted")
	if got := testutil.ToFloat64(ChainDecisions.WithLabelValues("exhausted")); got != before+1 {
		t.Errorf("exhausted = %v, want %v", got, before+1)
	}
}

func TestRecordCSRFAndAuthz(t *testing.T) {
	csrfBefore := testutil.ToFloat64(CSRFFailures.WithLabelValues("missing"))
	authzBefore := testutil.ToFloat64(AuthzDenials.WithLabelValues("roles"))

	RecordCSRFFailure("missing")
	RecordAuthzDenial("roles")

	if got := testutil.ToFloat64(CSRFFailures.WithLabelValues("missing")); got != csrfBefore+1 {
		t.Errorf("csrf missing = %v", got)
	}
	if got := testutil.ToFloat64(AuthzDenials.WithLabelValues("roles")); got != authzBefore+1 {
		t.Errorf("authz roles = %v", got)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPActiveRequests)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(HTTPActiveRequests); got != before+1 {
		t.Errorf("active = %v, want %v", got, before+1)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(HTTPActiveRequests); got != before {
		t.Errorf("active = %v, want %v", got, before)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	RecordHTTPRequest("GET", "/whoami", "200", 3*time.Millisecond)
	if n := testutil.CollectAndCount(HTTPRequestDuration); n == 0 {
		t.Error("no duration series collected")
	}
}
