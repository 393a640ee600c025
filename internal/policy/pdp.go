package policy

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/dhawalhost/riskgate/internal/audit"
	"github.com/dhawalhost/riskgate/internal/behavior"
	"github.com/dhawalhost/riskgate/internal/risk"
	"github.com/dhawalhost/riskgate/internal/token"
)

const defaultUpstreamTimeout = 2 * time.Second

// DecisionObserver receives decision outcomes for metrics.
type DecisionObserver interface {
	ObserveDecision(reason string, allowed bool, riskScore float64)
}

// PDP is the policy decision point. It combines identity claims, resource
// policy and behavioral risk into a single verdict, and it fails closed: any
// unreachable collaborator yields a denial, never a default allow.
type PDP struct {
	registry *Registry
	behavior behavior.Store
	scorer   *risk.Scorer
	recorder *audit.Recorder
	observer DecisionObserver
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// PDPConfig wires the decision point's collaborators. Recorder and Observer
// are optional.
type PDPConfig struct {
	Registry *Registry
	Behavior behavior.Store
	Scorer   *risk.Scorer
	Recorder *audit.Recorder
	Observer DecisionObserver
	Logger   *zap.Logger
	// UpstreamTimeout bounds calls to the behavior store. Zero selects the
	// default. Timeout is treated identically to unavailability.
	UpstreamTimeout time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

// NewPDP creates a decision point.
func NewPDP(cfg PDPConfig) *PDP {
	p := &PDP{
		registry: cfg.Registry,
		behavior: cfg.Behavior,
		scorer:   cfg.Scorer,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		timeout:  cfg.UpstreamTimeout,
		now:      cfg.Now,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.timeout <= 0 {
		p.timeout = defaultUpstreamTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Decide renders the allow/deny verdict for one request. Checks run in a
// fixed order and short-circuit on the first failure: token expiry, resource
// policy lookup (unknown resources fail closed), role membership, then risk
// threshold. The computed risk score is attached to the decision whenever the
// behavior history is reachable, including on denials, so downstream logging
// always sees it.
func (p *PDP) Decide(ctx context.Context, id token.Identity, action, resource string, rctx risk.Context) Decision {
	now := p.now()

	// Behavior history is fetched once, bounded by the upstream timeout. Its
	// error only becomes fatal at the risk stage; earlier denials stand on
	// their own.
	rec, recErr := p.behaviorRecord(ctx, id.Subject)

	score := -1.0
	var factors []risk.Factor
	if recErr == nil {
		score, factors = p.scorer.Score(id, action, resource, rctx, rec)
	}

	attach := func(d Decision) Decision {
		if score >= 0 {
			d.RiskScore = score
			d.RiskLevel = risk.LevelFor(score)
			d.Factors = factors
		}
		return d
	}

	deny := func(reason Reason) Decision {
		return p.finish(attach(Decision{Allowed: false, Reason: reason}), id, action, resource, rctx)
	}

	if id.Subject == "" || id.Expired(now) {
		return deny(ReasonExpiredToken)
	}

	pol, ok := p.registry.Lookup(resource)
	if !ok {
		return deny(ReasonResourceUnknown)
	}

	if len(pol.RequiredRoles) > 0 && !id.HasAnyRole(pol.RequiredRoles) {
		return deny(ReasonMissingRole)
	}

	if recErr != nil {
		p.logger.Warn("behavior store unreachable, failing closed",
			zap.String("subject", id.Subject),
			zap.Error(recErr))
		return deny(ReasonUpstreamUnavailable)
	}

	if score > pol.Sensitivity.Threshold() {
		return deny(ReasonRiskThresholdExceeded)
	}

	return p.finish(attach(Decision{Allowed: true, Reason: ReasonOK}), id, action, resource, rctx)
}

func (p *PDP) behaviorRecord(ctx context.Context, subject string) (behavior.Record, error) {
	bctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.behavior.Get(bctx, subject)
}

// finish records the decision for audit and metrics. The audit write is
// dispatched without the caller waiting on it and its failure never alters
// the verdict.
func (p *PDP) finish(d Decision, id token.Identity, action, resource string, rctx risk.Context) Decision {
	if p.observer != nil {
		p.observer.ObserveDecision(string(d.Reason), d.Allowed, d.RiskScore)
	}
	if p.recorder != nil {
		snapshot, _ := json.Marshal(rctx)
		p.recorder.Record(audit.Event{
			Subject:   id.Subject,
			EventType: audit.EventAuthorization,
			Action:    action,
			Resource:  resource,
			Allowed:   d.Allowed,
			Reason:    string(d.Reason),
			RiskScore: d.RiskScore,
			Context:   snapshot,
		})
	}
	return d
}
