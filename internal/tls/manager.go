package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"attendance-service/internal/config"
	"attendance-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// ErrNoCertificate is returned in production when neither ACME nor a
// certificate file yields a certificate.
var ErrNoCertificate = errors.New("no TLS certificate available")

// Manager resolves the server certificate: ACME first, then the configured
// key pair, then (outside production only) a self-signed development cert.
type Manager struct {
	options  Options
	autoCert *autocert.Manager

	mu       sync.Mutex
	fallback *tls.Certificate
}

type Options struct {
	AutoCert   bool
	Domain     string
	CertFile   string
	KeyFile    string
	CacheDir   string
	Email      string
	Production bool
}

// OptionsFromConfig maps the server section of the config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AutoCert:   cfg.Server.AutoCert,
		Domain:     cfg.Server.Domain,
		CertFile:   cfg.Server.CertFile,
		KeyFile:    cfg.Server.KeyFile,
		CacheDir:   cfg.Server.AutoCertDir,
		Email:      cfg.Server.Email,
		Production: cfg.IsProduction(),
	}
}

func NewManager(opts Options) *Manager {
	m := &Manager{options: opts}
	if opts.AutoCert && opts.Domain != "" {
		m.setupAutoCert()
	}
	return m
}

func (m *Manager) setupAutoCert() {
	if err := os.MkdirAll(m.options.CacheDir, 0700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.options.Domain),
		Cache:      autocert.DirCache(m.options.CacheDir),
		Email:      m.options.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.options.Domain),
		zap.String("cache_dir", m.options.CacheDir))
}

func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert lookup failed, falling back", zap.String("server_name", hello.ServerName), zap.Error(err))
	}

	if m.options.CertFile != "" && m.options.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.options.CertFile, m.options.KeyFile)
		if err == nil {
			return &cert, nil
		}
		util.Warn("Failed to load certificate file", zap.String("cert_file", m.options.CertFile), zap.Error(err))
	}

	if m.options.Production {
		return nil, ErrNoCertificate
	}
	return m.selfSigned()
}

// selfSigned generates the development certificate once per process.
func (m *Manager) selfSigned() (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fallback != nil {
		return m.fallback, nil
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if m.options.Domain != "" {
		hosts = append([]string{m.options.Domain}, hosts...)
	}

	cert, err := NewDevCertGenerator(m.options.CacheDir).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	m.fallback = &cert
	return m.fallback, nil
}

func (m *Manager) TLSConfig() *tls.Config {
	cfg := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
	if m.autoCert != nil {
		cfg.NextProtos = append(cfg.NextProtos, "acme-tls/1")
	}
	return cfg
}

// ChallengeHandler serves ACME HTTP-01 challenges on the plain listener and
// hands everything else to fallback. Without ACME it returns fallback as is.
func (m *Manager) ChallengeHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}
