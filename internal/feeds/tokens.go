package feeds

import (
	"context"

	"beacon/internal/model"
)

const tokensKey = "latest"

// NewestTokens returns the latest DexScreener token profiles, cached.
func (s *Service) NewestTokens(ctx context.Context) []model.TokenProfile {
	return s.tokens.Get(ctx, tokensKey, s.FetchTokens)
}

func (s *Service) FetchTokens(ctx context.Context) ([]model.TokenProfile, error) {
	var out []model.TokenProfile
	if err := s.getJSON(ctx, "dexscreener", s.endpoints.DexScreener+"/token-profiles/latest/v1", &out); err != nil {
		return nil, err
	}
	return out, nil
}
