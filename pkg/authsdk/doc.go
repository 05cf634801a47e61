/*
Package authsdk keeps a Go application in sync with an identity provider's
authentication state and talks to the auth service backend.

# Overview

The package is organized around four pieces:

  - Gateway: password sign-in, registration, federated sign-in and sign-out.
    Each returns a Result instead of an error.
  - Observer: turns provider notifications into SessionState values
    ({Subject, Loading}) and hands them to listeners in order.
  - Classify: maps an AuthFailure to a sentence fit to show a user.
  - SDKClient: calls GET /api/auth/user on the backend.

Session bundles a Gateway and an Observer into the one auth context an
application holds:

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := authsdk.NewSession(provider, authsdk.SessionConfig{
		Policy:  authsdk.PolicyVerifyBackend,
		Backend: client,
	})
	if err != nil {
		return err
	}
	session.Mount()
	defer session.Unmount()

	session.OnChange(func(s authsdk.SessionState) {
		render(s)
	})

	if res := session.SignInWithPassword(ctx, email, password); res.Failure != nil {
		toast(authsdk.Classify(res.Failure))
	}

# Providers

Provider is implemented by adapters in pkg/idp. Adapters publish state
changes through a Notifier, which delivers one notification at a time and
stops delivering to a Subscription once Unsubscribe returns.

# Policies

With PolicyVerifyBackend the Observer fetches a fresh ID token for every
provider sign-in and asks the backend who it belongs to. Only a matching
subject is committed as signed in. PolicyTrustProvider skips the round-trip.
*/
package authsdk
