// Package tls provides automatic HTTPS using CertMagic with Azure DNS-01
// challenges.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
	"github.com/rotisserie/eris"
)

// Config holds TLS configuration.
type Config struct {
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Use Let's Encrypt staging environment
	DNS      DNSConfig
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
// Without a subscription the HTTP-01 and TLS-ALPN challenges are used.
// Without a client secret a managed identity is used.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	TenantID          string
	ClientID          string
	ClientSecret      string
}

// Validate checks the settings certificate issuance cannot work without.
func (c Config) Validate() error {
	switch {
	case len(c.Domains) == 0:
		return errors.New("tls: no domains specified")
	case c.Email == "":
		return errors.New("tls: no email specified")
	case c.DNS.SubscriptionID != "" && c.DNS.ResourceGroupName == "":
		return errors.New("tls: azure dns resource group is required")
	}
	return nil
}

// Server serves a handler over HTTPS with managed certificates.
type Server struct {
	config  Config
	magic   *certmagic.Config
	handler http.Handler
	logger  *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a TLS server for handler.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	magic := certmagic.NewDefault()
	if cfg.CacheDir != "" {
		magic.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	ca := certmagic.LetsEncryptProductionCA
	if cfg.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}

	template := certmagic.ACMEIssuer{
		CA:     ca,
		Email:  cfg.Email,
		Agreed: true,
	}
	if cfg.DNS.SubscriptionID != "" {
		template.DNS01Solver = &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.DNS.SubscriptionID,
					ResourceGroupName: cfg.DNS.ResourceGroupName,
					TenantId:          cfg.DNS.TenantID,
					ClientId:          cfg.DNS.ClientID,
					ClientSecret:      cfg.DNS.ClientSecret,
				},
			},
		}
	}
	magic.Issuers = []certmagic.Issuer{certmagic.NewACMEIssuer(magic, template)}

	return &Server{
		config:  cfg,
		magic:   magic,
		handler: handler,
		logger:  logger,
	}, nil
}

// ManageCertificates obtains or renews certificates for the configured
// domains and keeps them renewed in the background.
func (s *Server) ManageCertificates(ctx context.Context) error {
	s.logger.Info("obtaining certificates", "domains", s.config.Domains)

	if err := s.magic.ManageSync(ctx, s.config.Domains); err != nil {
		return eris.Wrap(err, "manage certificates")
	}

	s.logger.Info("certificates obtained", "domains", s.config.Domains)
	return nil
}

// TLSConfig returns the TLS configuration serving managed certificates.
func (s *Server) TLSConfig() *tls.Config {
	return s.magic.TLSConfig()
}

// ListenAndServe serves HTTPS on addr until Shutdown.
func (s *Server) ListenAndServe(addr string, readTimeout, writeTimeout time.Duration) error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		TLSConfig:         s.TLSConfig(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("starting HTTPS server",
		"address", addr,
		"domains", s.config.Domains,
		"dns_challenge", s.config.DNS.SubscriptionID != "",
	)
	return srv.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the HTTPS server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
