package session

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authsync/internal/auth/app"
	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/cryptox"
	"github.com/aussiebroadwan/authsync/pkg/idp/emulator"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const settle = 5 * time.Second

var (
	cheapHash = cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}
	discard   = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

func newEmulator(opts ...emulator.Option) *emulator.Emulator {
	idp, err := emulator.New(append([]emulator.Option{
		emulator.WithPasswordHashing(cheapHash),
		emulator.WithLogger(discard),
	}, opts...)...)
	Expect(err).NotTo(HaveOccurred())
	return idp
}

// startBackend runs the auth service in-process with the production token
// verifier, trusting the keys of idp, and returns its base URL.
func startBackend(idp *emulator.Emulator) string {
	keys := httptest.NewServer(idp.JWKSHandler())
	DeferCleanup(keys.Close)

	dir, err := os.MkdirTemp("", "authsync-session-e2e")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, dir)

	application, err := app.New(app.Config{
		Env:                  "test",
		Port:                 8080,
		ProjectID:            idp.ProjectID(),
		KeysURL:              keys.URL,
		VerifyTimeout:        5 * time.Second,
		ShutdownGracePeriod:  2 * time.Second,
		HousekeepingInterval: time.Hour,
		AuditRetention:       time.Hour,
		DatabaseFile:         filepath.Join(dir, "auth.db"),
		TraceExporter:        "none",
	}, app.WithLogger(discard))
	Expect(err).NotTo(HaveOccurred())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, ln) }()
	DeferCleanup(func() {
		cancel()
		Eventually(done).WithTimeout(settle).Should(Receive(BeNil()))
	})

	baseURL := "http://" + ln.Addr().String()
	client := authsdk.NewSDKClient(baseURL)
	Eventually(func() error {
		_, err := client.GetReadiness(context.Background())
		return err
	}).WithTimeout(settle).Should(Succeed())

	return baseURL
}

// mount creates and mounts a session, unmounting it at cleanup.
func mount(p authsdk.Provider, cfg authsdk.SessionConfig) (*authsdk.Session, *recorder) {
	if cfg.Logger == nil {
		cfg.Logger = discard
	}
	s, err := authsdk.NewSession(p, cfg)
	Expect(err).NotTo(HaveOccurred())

	rec := &recorder{}
	DeferCleanup(s.OnChange(rec.record))

	s.Mount()
	DeferCleanup(s.Unmount)
	return s, rec
}

// recorder keeps every published session state.
type recorder struct {
	mu     sync.Mutex
	states []authsdk.SessionState
}

func (r *recorder) record(s authsdk.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

// uids lists the published subjects, "" for signed out.
func (r *recorder) uids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.states))
	for _, s := range r.states {
		if s.Subject == nil {
			out = append(out, "")
			continue
		}
		out = append(out, s.Subject.UID)
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
