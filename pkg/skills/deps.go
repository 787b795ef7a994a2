// Package skills implements the business logic behind each skill exposed
// uniformly across the three protocol frontends. Handlers are stateless:
// every call receives a Deps bundle rather than closing over module-scoped
// singletons.
package skills

import (
	"time"

	"github.com/provenanceagent/proof-agent/pkg/config"
	"github.com/provenanceagent/proof-agent/pkg/onchain"
	"github.com/provenanceagent/proof-agent/pkg/payment"
	"github.com/provenanceagent/proof-agent/pkg/proofcache"
	"github.com/provenanceagent/proof-agent/pkg/session"
	"github.com/provenanceagent/proof-agent/pkg/task"
	"github.com/provenanceagent/proof-agent/pkg/tee"
)

// LLMRouter is an optional, pluggable resolver from free-text input to a
// skill invocation; nil when no natural-language frontend is configured.
type LLMRouter interface {
	Resolve(text string) (skill string, params map[string]interface{}, err error)
}

// Clock is injected so tests can control "now" without depending on the
// wall clock; production callers pass time.Now.
type Clock func() time.Time

// Deps bundles every collaborator a skill handler may need. It is built
// once at startup and passed by reference to every invocation.
type Deps struct {
	Tasks        *task.Store
	Requests     *session.Store
	Cache        *proofcache.Cache
	Verifier     *onchain.Verifier
	Identity     *onchain.Identity
	Reputation   *onchain.Reputation
	Facilitator  *payment.Facilitator
	TEE          tee.Provider
	Clock        Clock
	Config       *config.Config
	LLM          LLMRouter
	SigningTTL   time.Duration
}

func (d *Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}
