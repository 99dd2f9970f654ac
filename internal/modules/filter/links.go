package filter

import (
	"context"

	"sentinel-automod/internal/storage"
	"sentinel-automod/internal/utils"
)

// linksRule fires on the first URL whose host is neither a default allowed
// domain nor on the guild allowlist.
type linksRule struct {
	domains *Domains
}

func (r *linksRule) Name() storage.FilterName { return storage.FilterLinks }

func (r *linksRule) Evaluate(_ context.Context, env Env) (*Verdict, error) {
	urls := utils.ExtractURLs(env.Msg.Content)
	if len(urls) == 0 {
		return nil, nil
	}

	defaults := r.domains.Get()
	for _, raw := range urls {
		host, err := utils.NormalizeHost(raw)
		if err != nil || host == "" {
			// unparseable hosts are still links
			return punishWith(ReasonLinks), nil
		}
		if !env.Snap.AllowedDomain(host, defaults) {
			return punishWith(ReasonLinks), nil
		}
	}
	return nil, nil
}
