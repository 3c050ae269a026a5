// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pki

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"

	"github.com/absmach/uasc/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/api/auth/approle"
	"github.com/mitchellh/mapstructure"
)

var (
	errFailedCertDecoding = errors.New("failed to decode response from vault service")
	errFailedToLogin      = errors.New("failed to login to Vault")
	errFailedAppRole      = errors.New("failed to create vault app role")
	errNoAuthInfo         = errors.New("no auth information from Vault")
	errNonRenewal         = errors.New("token is not configured to be renewable")
	errRenewWatcher       = errors.New("unable to initialize lifetime watcher for renewing auth token")
	errFailedRenew        = errors.New("failed to renew token")
	errCouldNotRenew      = errors.New("token can no longer be renewed")
)

type vaultCert struct {
	Certificate string `mapstructure:"certificate"`
	PrivateKey  string `mapstructure:"private_key"`
	SerialNo    string `mapstructure:"serial_number"`
}

type issueRequest struct {
	CommonName string `json:"common_name"`
	TTL        string `json:"ttl"`
}

// VaultStore issues and renews the server's own handshake identity
// from a Vault PKI secrets engine's issue endpoint, writing each fresh
// certificate/key pair into a FileStore so asym.CertStore lookups
// never block on Vault.
type VaultStore struct {
	FileStore

	client *api.Client
	secret *api.Secret
	logger *slog.Logger

	appRole    string
	appSecret  string
	namespace  string
	issueURL   string
	commonName string
	ttl        string
}

// NewVaultStore dials Vault and performs one synchronous issuance
// before returning, so the caller never serves a handshake with no
// identity loaded.
func NewVaultStore(ctx context.Context, host, namespace, appRole, appSecret, path, role, commonName, ttl string, logger *slog.Logger) (*VaultStore, error) {
	conf := api.DefaultConfig()
	conf.Address = host

	client, err := api.NewClient(conf)
	if err != nil {
		return nil, err
	}
	if namespace != "" {
		client.SetNamespace(namespace)
	}

	v := &VaultStore{
		client:     client,
		logger:     logger,
		appRole:    appRole,
		appSecret:  appSecret,
		namespace:  namespace,
		issueURL:   "/" + path + "/issue/" + role,
		commonName: commonName,
		ttl:        ttl,
	}

	retry := func(op func() error) error {
		return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
	}

	if err := retry(func() error { return v.login(ctx) }); err != nil {
		return nil, err
	}
	if err := retry(v.issue); err != nil {
		return nil, err
	}
	return v, nil
}

// Run drives the login/renew loop for as long as ctx is live,
// reissuing the handshake identity whenever the Vault token's
// lifetime watcher reports a renewal.
func (v *VaultStore) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			v.logger.Info("pki login and renew loop stopping")
			return nil
		default:
		}

		if err := v.manageTokenLifecycle(ctx); err != nil {
			v.logger.Warn("vault token lifecycle ended, re-authenticating", slog.Any("error", err))
			reauth := func() error { return v.login(ctx) }
			if err := backoff.Retry(reauth, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
				v.logger.Warn("unable to authenticate to Vault", slog.Any("error", err))
			}
		}
	}
}

func (v *VaultStore) login(ctx context.Context) error {
	secretID := &approle.SecretID{FromString: v.appSecret}

	authMethod, err := approle.NewAppRoleAuth(v.appRole, secretID)
	if err != nil {
		return errors.Wrap(errFailedAppRole, err)
	}
	if v.namespace != "" {
		v.client.SetNamespace(v.namespace)
	}

	secret, err := v.client.Auth().Login(ctx, authMethod)
	if err != nil {
		return errors.Wrap(errFailedToLogin, err)
	}
	if secret == nil {
		return errNoAuthInfo
	}

	v.secret = secret
	return nil
}

func (v *VaultStore) manageTokenLifecycle(ctx context.Context) error {
	if !v.secret.Auth.Renewable {
		return errNonRenewal
	}

	watcher, err := v.client.NewLifetimeWatcher(&api.LifetimeWatcherInput{
		Secret:    v.secret,
		Increment: 3600,
	})
	if err != nil {
		return errors.Wrap(errRenewWatcher, err)
	}

	go watcher.Start()
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.DoneCh():
			if err != nil {
				return errors.Wrap(errFailedRenew, err)
			}
			return errCouldNotRenew
		case renewal := <-watcher.RenewCh():
			v.logger.Info("renewed vault token", slog.Any("renewed_at", renewal.RenewedAt))
			if err := v.issue(); err != nil {
				v.logger.Warn("failed to reissue handshake identity after token renewal", slog.Any("error", err))
			}
		}
	}
}

// issue requests a fresh certificate/key pair from Vault's PKI issue
// endpoint and rotates it into the embedded FileStore.
func (v *VaultStore) issue() error {
	req := issueRequest{CommonName: v.commonName, TTL: v.ttl}

	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	s, err := v.client.Logical().Write(v.issueURL, data)
	if err != nil {
		return err
	}

	var vc vaultCert
	if err := mapstructure.Decode(s.Data, &vc); err != nil {
		return errors.Wrap(errFailedCertDecoding, err)
	}

	certBlock, _ := pem.Decode([]byte(vc.Certificate))
	if certBlock == nil {
		return errors.New("vault returned an undecodable certificate")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return err
	}

	keyBlock, _ := pem.Decode([]byte(vc.PrivateKey))
	if keyBlock == nil {
		return errors.New("vault returned an undecodable private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8, err2 := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err2 != nil {
			return err
		}
		rsaKey, ok := pkcs8.(*rsa.PrivateKey)
		if !ok {
			return errors.New("vault issued a non-RSA private key")
		}
		key = rsaKey
	}

	v.Rotate(cert.Raw, key)
	return nil
}
