// Package authctl is a terminal client for the auth service. It keeps a
// session against Firebase (or the in-process emulator) and prints every
// session change as it is published.
package authctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/idp/emulator"
	"github.com/aussiebroadwan/authsync/pkg/idp/firebase"
	"github.com/aussiebroadwan/authsync/pkg/slogx"
)

// settleTimeout bounds how long a command waits for the session change it
// caused to be published.
const settleTimeout = 20 * time.Second

const usage = `commands:
  signin <email> <password>    sign in with email and password
  register <email> <password>  create an account and sign in
  google                       sign in with Google
  signout                      sign out
  whoami                       show the session, and the backend's view of it
  state                        show the raw session state
  help                         show this help
  quit                         exit`

// Run builds the provider described by cfg and runs commands. With no
// commands it reads one command per line from in.
func Run(ctx context.Context, cfg Config, commands []string, in io.Reader, out, errOut io.Writer) error {
	provider, err := newProvider(cfg, errOut, newLogger(cfg, errOut))
	if err != nil {
		return err
	}
	return RunWith(ctx, cfg, provider, commands, in, out, errOut)
}

// RunWith runs commands against an existing provider.
func RunWith(ctx context.Context, cfg Config, provider authsdk.Provider, commands []string, in io.Reader, out, errOut io.Writer) error {
	logger := newLogger(cfg, errOut)

	policy, err := authsdk.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}

	var backend *authsdk.SDKClient
	sessionCfg := authsdk.SessionConfig{
		Policy:        policy,
		InitTimeout:   cfg.InitTimeout,
		VerifyTimeout: cfg.VerifyTimeout,
		Logger:        logger,
	}
	if cfg.BackendURL != "" {
		backend = authsdk.NewSDKClient(cfg.BackendURL)
		sessionCfg.Backend = backend
	}

	session, err := authsdk.NewSession(provider, sessionCfg)
	if err != nil {
		return err
	}

	c := &console{
		session:  session,
		provider: provider,
		backend:  backend,
		out:      &syncWriter{w: out},
		changes:  newChangeTracker(),
	}
	cancel := session.OnChange(c.printState)
	defer cancel()

	session.Mount()
	defer session.Unmount()

	if _, err := session.Wait(ctx); err != nil {
		return err
	}
	// Print the initial state before running anything.
	settleCtx, settleCancel := context.WithTimeout(ctx, settleTimeout)
	err = c.changes.waitPast(settleCtx, 0)
	settleCancel()
	if err != nil {
		return err
	}

	if len(commands) > 0 {
		if err := c.exec(ctx, commands); !errors.Is(err, errQuit) {
			return err
		}
		return nil
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		err := c.exec(ctx, strings.Fields(line))
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

func newLogger(cfg Config, errOut io.Writer) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "authctl",
		Env:     "cli",
		Level:   cfg.LogLevel,
		Format:  "text",
		Output:  errOut,
	})
}

func newProvider(cfg Config, errOut io.Writer, logger *slog.Logger) (authsdk.Provider, error) {
	if cfg.Emulator {
		opts := []emulator.Option{emulator.WithLogger(logger)}
		if cfg.ProjectID != "" {
			opts = append(opts, emulator.WithProjectID(cfg.ProjectID))
		}
		return emulator.New(opts...)
	}

	fcfg := firebase.Config{
		APIKey: cfg.APIKey,
		Federated: firebase.FederatedConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			OpenBrowser: firebase.PrintURL(func(s string) {
				fmt.Fprintln(errOut, s)
			}),
		},
		Logger: logger,
	}
	if cfg.AuthEmulatorHost != "" {
		fcfg.IdentityToolkitURL = "http://" + cfg.AuthEmulatorHost + "/identitytoolkit.googleapis.com"
		fcfg.SecureTokenURL = "http://" + cfg.AuthEmulatorHost + "/securetoken.googleapis.com"
	}
	return firebase.NewClient(fcfg)
}

var errQuit = errors.New("quit")

type console struct {
	session  *authsdk.Session
	provider authsdk.Provider
	backend  *authsdk.SDKClient
	out      io.Writer
	changes  *changeTracker
}

// exec runs one command. Command failures are printed, not returned; the
// returned error is reserved for the session itself going away.
func (c *console) exec(ctx context.Context, args []string) error {
	cmd, rest := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "signin", "register":
		if len(rest) != 2 {
			fmt.Fprintf(c.out, "usage: %s <email> <password>\n", cmd)
			return nil
		}
		return c.act(ctx, func() *authsdk.AuthFailure {
			if cmd == "signin" {
				return c.session.SignInWithPassword(ctx, rest[0], rest[1]).Failure
			}
			return c.session.RegisterWithPassword(ctx, rest[0], rest[1]).Failure
		})
	case "google":
		return c.act(ctx, func() *authsdk.AuthFailure {
			return c.session.SignInWithFederatedProvider(ctx).Failure
		})
	case "signout":
		return c.act(ctx, func() *authsdk.AuthFailure {
			return c.session.SignOut(ctx).Failure
		})
	case "whoami":
		c.whoami(ctx)
	case "state":
		st := c.session.State()
		fmt.Fprintf(c.out, "phase=%s loading=%t authenticated=%t\n",
			c.session.Phase(), st.Loading, st.Authenticated())
	case "help":
		fmt.Fprintln(c.out, usage)
	case "quit", "exit":
		return errQuit
	default:
		fmt.Fprintf(c.out, "unknown command %q, try help\n", cmd)
	}
	return nil
}

// act runs fn and, when it succeeded, waits until the resulting session
// change has been printed.
func (c *console) act(ctx context.Context, fn func() *authsdk.AuthFailure) error {
	seq := c.changes.current()

	if f := fn(); f != nil {
		fmt.Fprintln(c.out, "error:", authsdk.Classify(f))
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := c.changes.waitPast(waitCtx, seq); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintln(c.out, "error: the session did not update in time")
	}
	return nil
}

func (c *console) whoami(ctx context.Context) {
	st := c.session.State()
	if !st.Authenticated() {
		fmt.Fprintln(c.out, "not signed in")
		return
	}
	fmt.Fprintf(c.out, "signed in as %s (%s) via %s\n", st.Subject.Email, st.Subject.UID, st.Subject.ProviderID)

	if c.backend == nil {
		return
	}
	token, err := c.provider.IDToken(ctx, st.Subject)
	if err != nil {
		fmt.Fprintln(c.out, "error:", authsdk.ClassifyError(err))
		return
	}
	user, err := c.backend.GetUser(ctx, token)
	if err != nil {
		fmt.Fprintf(c.out, "backend: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "backend: user_id=%s\n", user.UserID)
}

func (c *console) printState(st authsdk.SessionState) {
	switch {
	case st.Loading:
		fmt.Fprintln(c.out, "session: loading")
	case st.Subject == nil:
		fmt.Fprintln(c.out, "session: signed out")
	default:
		fmt.Fprintf(c.out, "session: signed in as %s (%s)\n", st.Subject.Email, st.Subject.UID)
	}
	c.changes.bump()
}

// changeTracker counts published session states so a command can wait for
// the one it caused.
type changeTracker struct {
	mu  sync.Mutex
	seq uint64
	ch  chan struct{}
}

func newChangeTracker() *changeTracker {
	return &changeTracker{ch: make(chan struct{})}
}

func (t *changeTracker) bump() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	close(t.ch)
	t.ch = make(chan struct{})
}

func (t *changeTracker) current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

func (t *changeTracker) waitPast(ctx context.Context, seq uint64) error {
	for {
		t.mu.Lock()
		if t.seq > seq {
			t.mu.Unlock()
			return nil
		}
		ch := t.ch
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// syncWriter serialises writes from commands and session listeners.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
