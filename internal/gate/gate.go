package gate

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"crashrelay/internal/domain"
	"crashrelay/internal/store"
)

// Callback receives every evaluation outcome. Endpoints are empty when the
// agent is disabled.
type Callback func(ctx context.Context, enabled bool, sessionsURL, installURL string)

// Payload is the remote config document. Pointer fields distinguish an
// absent flag from an explicit false.
type Payload struct {
	Enabled   *bool `json:"enabled"`
	Override  *bool `json:"override"`
	Sticky    *bool `json:"sticky"`
	Endpoints struct {
		Install  string `json:"install"`
		Sessions string `json:"sessions"`
	} `json:"endpoints"`
}

// Gate turns remote config payloads plus the persisted sticky flag into
// an enablement decision.
type Gate struct {
	kv       store.KV
	callback Callback

	// evalMu serialises whole evaluations, callback included, so callbacks
	// arrive in the same order as the decisions Decision reports.
	evalMu sync.Mutex

	mu   sync.Mutex
	last domain.Decision
}

func New(kv store.KV, cb Callback) *Gate {
	return &Gate{kv: kv, callback: cb}
}

// Decision returns the outcome of the most recent evaluation. Before the
// first evaluation the agent is disabled.
func (g *Gate) Decision() domain.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Evaluate parses raw and applies it. A payload that cannot be decoded
// yields a disabled decision.
func (g *Gate) Evaluate(ctx context.Context, raw []byte) domain.Decision {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("malformed config payload")
		return g.Apply(ctx, Payload{})
	}
	return g.Apply(ctx, p)
}

// Apply evaluates p against the stored sticky flag, persists the flag when
// p overrides it, records the decision and invokes the callback once.
// The callback may call Decision but must not evaluate again.
func (g *Gate) Apply(ctx context.Context, p Payload) domain.Decision {
	g.evalMu.Lock()
	defer g.evalMu.Unlock()

	d := g.decide(ctx, p)
	g.mu.Lock()
	g.last = d
	g.mu.Unlock()

	gateDecisionsTotal.WithLabelValues(outcome(d.Enabled)).Inc()
	if g.callback != nil {
		g.callback(ctx, d.Enabled, d.SessionsEndpoint, d.InstallEndpoint)
	}
	return d
}

func (g *Gate) decide(ctx context.Context, p Payload) domain.Decision {
	if p.Enabled == nil || p.Override == nil {
		log.Info().Msg("config payload missing enabled/override, disabling")
		return domain.Decision{}
	}
	enabled := *p.Enabled
	sticky := p.Sticky != nil && *p.Sticky

	var effective bool
	if *p.Override {
		// Only a sticky enabled payload keeps the agent on for later
		// payloads that do not override.
		if err := store.SetBool(ctx, g.kv, domain.KeySticky, sticky && enabled); err != nil {
			log.Error().Err(err).Msg("failed to persist sticky flag")
		}
		effective = enabled
	} else {
		// A flag that was never stored reads as false.
		stored, _, err := store.GetBool(ctx, g.kv, domain.KeySticky)
		if err != nil {
			log.Error().Err(err).Msg("failed to read sticky flag")
		}
		effective = err == nil && stored
	}

	if !effective {
		return domain.Decision{}
	}
	return domain.Decision{
		Enabled:          true,
		SessionsEndpoint: p.Endpoints.Sessions,
		InstallEndpoint:  p.Endpoints.Install,
	}
}

func outcome(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
