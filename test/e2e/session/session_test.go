package session

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
	"github.com/aussiebroadwan/authsync/pkg/idp/emulator"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var trustProvider = authsdk.SessionConfig{
	Policy:      authsdk.PolicyTrustProvider,
	InitTimeout: time.Second,
}

var _ = Describe("Session", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("initialisation", func() {
		It("is loading until the provider reports", func() {
			s, err := authsdk.NewSession(newEmulator(emulator.WithoutInitialState()), trustProvider)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.State()).To(Equal(authsdk.SessionState{Subject: nil, Loading: true}))
			Expect(s.Phase()).To(Equal(authsdk.PhaseInitializing))
		})

		It("settles signed out when the provider never reports", func() {
			idp := newEmulator(emulator.WithoutInitialState())
			s, rec := mount(idp, authsdk.SessionConfig{
				Policy:      authsdk.PolicyTrustProvider,
				InitTimeout: 100 * time.Millisecond,
			})

			waitCtx, cancel := context.WithTimeout(ctx, settle)
			defer cancel()
			state, err := s.Wait(waitCtx)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(authsdk.SessionState{Subject: nil, Loading: false}))
			Expect(s.Phase()).To(Equal(authsdk.PhaseUnauthenticated))

			By("still following the provider afterwards")
			res := s.RegisterWithPassword(ctx, "late@example.com", "hunter22")
			Expect(res.OK()).To(BeTrue())
			Eventually(rec.uids).WithTimeout(settle).Should(Equal([]string{"", res.Subject.UID}))
			Expect(s.Phase()).To(Equal(authsdk.PhaseAuthenticated))
		})
	})

	Describe("credential gateway", func() {
		It("classifies a duplicate registration and keeps the session", func() {
			s, rec := mount(newEmulator(), trustProvider)

			first := s.RegisterWithPassword(ctx, "dup@example.com", "hunter22")
			Expect(first.OK()).To(BeTrue())
			Eventually(rec.count).WithTimeout(settle).Should(Equal(2))

			again := s.RegisterWithPassword(ctx, "dup@example.com", "hunter22")
			Expect(again.OK()).To(BeFalse())
			Expect(authsdk.Classify(again.Failure)).To(Equal(
				"An account with this email already exists. Please try logging in instead."))

			Consistently(rec.count).WithTimeout(200 * time.Millisecond).Should(Equal(2))
			Expect(s.State().Subject.UID).To(Equal(first.Subject.UID))
		})

		DescribeTable("classifies provider failures",
			func(email, password, want string) {
				s, _ := mount(newEmulator(), trustProvider)
				Expect(s.RegisterWithPassword(ctx, "known@example.com", "hunter22").OK()).To(BeTrue())

				res := s.SignInWithPassword(ctx, email, password)
				Expect(res.OK()).To(BeFalse())
				Expect(authsdk.Classify(res.Failure)).To(Equal(want))
			},
			Entry("wrong password", "known@example.com", "hunter23", "Incorrect password. Please try again."),
			Entry("unknown account", "nobody@example.com", "hunter22", "No account found with this email. Please sign up instead."),
			Entry("malformed email", "known-at-example.com", "hunter22", "Please enter a valid email address."),
			Entry("empty email", "", "hunter22", "Please enter a valid email address."),
		)

		It("classifies a weak password", func() {
			s, _ := mount(newEmulator(), trustProvider)

			res := s.RegisterWithPassword(ctx, "weak@example.com", "12345")
			Expect(authsdk.Classify(res.Failure)).To(Equal("Password should be at least 6 characters long."))
		})
	})

	Describe("ordering", func() {
		It("publishes sign-in, sign-out and sign-in in order", func() {
			idp := newEmulator()
			s, rec := mount(idp, trustProvider)

			a := s.RegisterWithPassword(ctx, "a@example.com", "hunter22")
			Expect(a.OK()).To(BeTrue())
			Expect(s.SignOut(ctx).Failure).To(BeNil())
			b := s.RegisterWithPassword(ctx, "b@example.com", "hunter22")
			Expect(b.OK()).To(BeTrue())

			Eventually(rec.uids).WithTimeout(settle).Should(Equal([]string{"", a.Subject.UID, "", b.Subject.UID}))
			Expect(s.State().Subject.UID).To(Equal(b.Subject.UID))
		})

		It("treats repeated sign-outs as signed out", func() {
			s, rec := mount(newEmulator(), trustProvider)

			Expect(s.SignOut(ctx).Failure).To(BeNil())
			Expect(s.SignOut(ctx).Failure).To(BeNil())

			Eventually(rec.uids).WithTimeout(settle).Should(Equal([]string{"", "", ""}))
			Expect(s.State().Authenticated()).To(BeFalse())
		})

		It("publishes nothing after unmount", func() {
			idp := newEmulator()
			s, rec := mount(idp, trustProvider)
			Eventually(rec.count).WithTimeout(settle).Should(Equal(1))

			s.Unmount()
			_, err := idp.RegisterWithPassword(ctx, "gone@example.com", "hunter22")
			Expect(err).NotTo(HaveOccurred())

			Consistently(rec.count).WithTimeout(200 * time.Millisecond).Should(Equal(1))
		})
	})

	Describe("backend verification", func() {
		var (
			idp     *emulator.Emulator
			backend *authsdk.SDKClient
		)

		BeforeEach(func() {
			idp = newEmulator()
			backend = authsdk.NewSDKClient(startBackend(idp))
		})

		It("commits sign-ins the backend accepts", func() {
			s, rec := mount(idp, authsdk.SessionConfig{
				Policy:        authsdk.PolicyVerifyBackend,
				Backend:       backend,
				VerifyTimeout: settle,
			})

			res := s.RegisterWithPassword(ctx, "trusted@example.com", "hunter22")
			Expect(res.OK()).To(BeTrue())
			Eventually(rec.uids).WithTimeout(settle).Should(Equal([]string{"", res.Subject.UID}))

			token, err := idp.IDToken(ctx, res.Subject)
			Expect(err).NotTo(HaveOccurred())
			user, err := backend.GetUser(ctx, token)
			Expect(err).NotTo(HaveOccurred())
			Expect(user.UserID).To(Equal(res.Subject.UID))
		})

		It("treats a sign-in the backend rejects as signed out", func() {
			stranger := newEmulator()
			s, rec := mount(stranger, authsdk.SessionConfig{
				Policy:        authsdk.PolicyVerifyBackend,
				Backend:       backend,
				VerifyTimeout: settle,
			})

			res := s.RegisterWithPassword(ctx, "stranger@example.com", "hunter22")
			Expect(res.OK()).To(BeTrue())

			Eventually(rec.uids).WithTimeout(settle).Should(Equal([]string{"", ""}))
			Expect(s.State()).To(Equal(authsdk.SessionState{Subject: nil, Loading: false}))
			Expect(s.Phase()).To(Equal(authsdk.PhaseUnauthenticated))
		})

		It("rejects tampered and missing tokens at the backend", func() {
			res, err := idp.RegisterWithPassword(ctx, "tampered@example.com", "hunter22")
			Expect(err).NotTo(HaveOccurred())
			token, err := idp.IDToken(ctx, res)
			Expect(err).NotTo(HaveOccurred())

			_, err = backend.GetUser(ctx, "tampered"+token)
			Expect(err).To(MatchError(authsdk.ErrNotAuthorized))

			_, err = backend.GetUser(ctx, "")
			Expect(err).To(MatchError(authsdk.ErrNotAuthorized))
		})
	})
})
