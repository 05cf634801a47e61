package firebase

import (
	"context"
	"net/url"

	"github.com/aussiebroadwan/authsync/pkg/authsdk"
)

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// SignInWithPassword implements authsdk.Provider.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*authsdk.Subject, error) {
	var acct accountResponse
	err := c.post(ctx, "accounts:signInWithPassword", passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &acct)
	if err != nil {
		return nil, err
	}
	return c.establish(acct, "password")
}

// RegisterWithPassword implements authsdk.Provider.
func (c *Client) RegisterWithPassword(ctx context.Context, email, password string) (*authsdk.Subject, error) {
	var acct accountResponse
	err := c.post(ctx, "accounts:signUp", passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &acct)
	if err != nil {
		return nil, err
	}
	return c.establish(acct, "password")
}

type idpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
}

// signInWithIdp exchanges a verified third-party ID token for a Firebase
// session.
func (c *Client) signInWithIdp(ctx context.Context, providerID, idToken, requestURI string) (*authsdk.Subject, error) {
	var acct accountResponse
	err := c.post(ctx, "accounts:signInWithIdp", idpRequest{
		PostBody:            url.Values{"id_token": {idToken}, "providerId": {providerID}}.Encode(),
		RequestURI:          requestURI,
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	}, &acct)
	if err != nil {
		return nil, err
	}
	return c.establish(acct, providerID)
}
