package authsdk_test

import (
	"context"
	"sync"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
)

// fakeProvider is a scriptable Provider. Each call consults the matching
// hook; state changes are emitted by the test through emit.
type fakeProvider struct {
	authsdk.Notifier

	mu        sync.Mutex
	signIn    func(email, password string) (*authsdk.Subject, error)
	register  func(email, password string) (*authsdk.Subject, error)
	federated func(ctx context.Context, fp authsdk.FederatedProvider) (*authsdk.Subject, error)
	signOut   func() error
	idToken   func(ctx context.Context, s *authsdk.Subject) (string, error)

	calls []string
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) emit(s *authsdk.Subject) { p.Publish(s) }

func (p *fakeProvider) SignInWithPassword(_ context.Context, email, password string) (*authsdk.Subject, error) {
	p.record("signIn")
	return p.signIn(email, password)
}

func (p *fakeProvider) RegisterWithPassword(_ context.Context, email, password string) (*authsdk.Subject, error) {
	p.record("register")
	return p.register(email, password)
}

func (p *fakeProvider) SignInWithFederated(ctx context.Context, fp authsdk.FederatedProvider) (*authsdk.Subject, error) {
	p.record("federated:" + fp.ID)
	return p.federated(ctx, fp)
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.record("signOut")
	if p.signOut == nil {
		return nil
	}
	return p.signOut()
}

func (p *fakeProvider) IDToken(ctx context.Context, s *authsdk.Subject) (string, error) {
	p.record("idToken")
	if p.idToken == nil {
		return "token-" + s.UID, nil
	}
	return p.idToken(ctx, s)
}

// fakeBackend resolves "token-<uid>" to uid unless the uid is rejected.
type fakeBackend struct {
	mu       sync.Mutex
	rejected map[string]bool
	seen     []string
}

func (b *fakeBackend) VerifySubject(_ context.Context, token string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, token)

	uid := token[len("token-"):]
	if b.rejected[uid] {
		return "", authsdk.ErrNotAuthorized
	}
	return uid, nil
}

func (b *fakeBackend) Seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seen...)
}
