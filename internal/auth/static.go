package auth

import "context"

// StaticVerifier authenticates every request as one fixed identity. With
// Token set, only that exact token is accepted.
type StaticVerifier struct {
	Token    string
	Identity Identity
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	if v.Token != "" && token != v.Token {
		return nil, ErrUnauthorized
	}
	id := v.Identity
	id.Token = token
	return &id, nil
}

// StaticProvider always returns the same identity.
type StaticProvider struct {
	Fixed Identity
}

func (p *StaticProvider) Identity(context.Context) (*Identity, error) {
	id := p.Fixed
	return &id, nil
}
