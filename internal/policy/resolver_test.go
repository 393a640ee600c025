package policy

import (
	"context"
	"testing"
	"time"

	"github.com/dhawalhost/riskgate/internal/behavior"
	"github.com/dhawalhost/riskgate/internal/risk"
)

func newTestResolver(t *testing.T, store behavior.Store) *Resolver {
	t.Helper()
	pdp := newTestPDP(t, store)
	return NewResolver(pdp, pdp.registry)
}

func TestResolveLowSensitivityCheapPath(t *testing.T) {
	// The cheap path never touches the behavior store; a failing store must
	// not matter for low-sensitivity resources.
	r := newTestResolver(t, failingBehaviorStore{})

	perms := r.Resolve(context.Background(), validIdentity("viewer"), "/api/reports", favorableContext())
	if !perms.Read || !perms.Write || !perms.Delete {
		t.Fatalf("expected full grant on low-sensitivity cheap path, got %+v", perms)
	}
}

func TestResolveLowSensitivityExpiredIdentity(t *testing.T) {
	r := newTestResolver(t, behavior.NewMemoryStore(nil))
	id := validIdentity("viewer")
	id.ExpiresAt = time.Now().Add(-time.Minute)

	perms := r.Resolve(context.Background(), id, "/api/reports", favorableContext())
	if perms.Read || perms.Write || perms.Delete {
		t.Fatalf("expired identity must get no permissions, got %+v", perms)
	}
}

func TestResolveHighSensitivityUsesFullDecision(t *testing.T) {
	r := newTestResolver(t, seasonedStore(t, "user-1", 10))

	perms := r.Resolve(context.Background(), validIdentity("manager"), "/api/secure", favorableContext())
	if !perms.Read {
		t.Error("expected read grant")
	}
	// Write and delete are high-risk actions; with favorable context and
	// history the score stays under the high threshold.
	if !perms.Write || !perms.Delete {
		t.Errorf("expected write/delete grant with favorable context, got %+v", perms)
	}

	// Without MFA the extra penalties push delete over the high threshold.
	perms = r.Resolve(context.Background(), validIdentity("manager"), "/api/secure",
		riskContextWithoutMFA())
	if perms.Delete {
		t.Errorf("expected delete denied without MFA on high sensitivity, got %+v", perms)
	}
}

func TestResolveUnknownResourceClass(t *testing.T) {
	r := newTestResolver(t, seasonedStore(t, "user-1", 10))
	perms := r.Resolve(context.Background(), validIdentity("admin"), "/unregistered", favorableContext())
	if perms.Read || perms.Write || perms.Delete {
		t.Fatalf("unknown resource class must default to no permissions, got %+v", perms)
	}
}

func TestResolveFailsClosedOnUpstreamOutage(t *testing.T) {
	r := newTestResolver(t, failingBehaviorStore{})
	perms := r.Resolve(context.Background(), validIdentity("manager"), "/api/secure", favorableContext())
	if perms.Read || perms.Write || perms.Delete {
		t.Fatalf("upstream outage must default every flag to false, got %+v", perms)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := newTestResolver(t, seasonedStore(t, "user-1", 10))
	id := validIdentity("manager")

	first := r.Resolve(context.Background(), id, "/api/secure", favorableContext())
	for i := 0; i < 5; i++ {
		again := r.Resolve(context.Background(), id, "/api/secure", favorableContext())
		if again != first {
			t.Fatalf("expected identical permissions, got %+v then %+v", first, again)
		}
	}
}

func riskContextWithoutMFA() risk.Context {
	rctx := favorableContext()
	rctx.MFAVerified = false
	rctx.VPNConnected = false
	rctx.Location = ""
	return rctx
}
