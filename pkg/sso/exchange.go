package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ExchangeRequest is the input to TokenExchanger.Exchange
type ExchangeRequest struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Code          string
	RedirectURI   string
	CodeVerifier  string
	AuthMethod    AuthMethod
}

// TokenExchanger redeems authorization codes at a provider's token endpoint
type TokenExchanger struct {
	client *http.Client
}

// NewTokenExchanger creates a token exchanger; a nil client gets the default
func NewTokenExchanger(client *http.Client) *TokenExchanger {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPTimeout)
	}
	return &TokenExchanger{client: client}
}

// Exchange performs the authorization_code grant
func (e *TokenExchanger) Exchange(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	ca, err := parseClientAuth(req.AuthMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	return e.exchange(ctx, req, ca)
}

func (e *TokenExchanger) exchange(ctx context.Context, req ExchangeRequest, ca clientAuth) (*TokenResponse, error) {
	if req.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: token endpoint is required", ErrTokenExchange)
	}
	if req.Code == "" {
		return nil, fmt.Errorf("%w: authorization code is required", ErrTokenExchange)
	}

	secret := ""
	if ca.requiresSecret() {
		if req.ClientSecret == "" {
			return nil, fmt.Errorf("%w: %s requires a client secret", ErrTokenExchange, ca.method())
		}
		secret = req.ClientSecret
	} else if req.CodeVerifier == "" {
		return nil, fmt.Errorf("%w: public clients must send a PKCE verifier", ErrTokenExchange)
	}

	conf := &oauth2.Config{
		ClientID:     req.ClientID,
		ClientSecret: secret,
		RedirectURL:  req.RedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  req.TokenEndpoint,
			AuthStyle: ca.authStyle(),
		},
	}

	var opts []oauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	tok, err := conf.Exchange(ctx, req.Code, opts...)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("%w: token endpoint returned status %d (%s)", ErrTokenExchange, rerr.Response.StatusCode, rerr.ErrorCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, fmt.Errorf("%w: response missing id_token", ErrTokenExchange)
	}

	return &TokenResponse{
		IDToken:      idToken,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}, nil
}
