// Package chassis runs the HTTP handler on plain TCP, or on TLS with an
// optional HTTP/3 listener on the same UDP port. HTTP/3 is advertised to
// TCP clients through Alt-Svc.
package chassis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Config holds configuration for the chassis server.
type Config struct {
	Addr     string
	Handler  http.Handler
	CertFile string
	KeyFile  string
	// HTTP3 enables TLS (self-signed when no cert is given) and QUIC.
	HTTP3  bool
	Logger *slog.Logger
}

// Server serves one handler on up to two listeners.
type Server struct {
	addr    string
	logger  *slog.Logger
	tlsCfg  *tls.Config
	http3   bool
	handler http.Handler

	mu        sync.Mutex
	tcpServer *http.Server
	h3Server  *http3.Server
	quicLn    *quic.EarlyListener
}

// New prepares the server. TLS is used when a cert pair is configured or
// HTTP/3 is enabled.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		addr:    cfg.Addr,
		logger:  cfg.Logger,
		http3:   cfg.HTTP3,
		handler: securityHeaders(cfg.Handler),
	}

	switch {
	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err := loadCertPair(cfg.CertFile, cfg.KeyFile, time.Now(), cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert: %w", err)
		}
		s.tlsCfg = newTLSConfig(cert)
		cfg.Logger.Info("TLS: certificate loaded", "cert", cfg.CertFile)
	case cfg.HTTP3:
		cert, err := selfSignedCert(cfg.Addr, time.Now())
		if err != nil {
			return nil, fmt.Errorf("generate dev TLS: %w", err)
		}
		s.tlsCfg = newTLSConfig(cert)
		cfg.Logger.Info("TLS: self-signed dev cert generated", "dns", cert.Leaf.DNSNames, "ips", len(cert.Leaf.IPAddresses))
	}

	if s.http3 && s.tlsCfg != nil {
		s.handler = altSvcMiddleware(s.addr, s.handler)
	}
	return s, nil
}

// securityHeaders adds standard security headers. The page loads Leaflet
// and map tiles from their CDNs.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com; style-src 'self' 'unsafe-inline' https://unpkg.com; img-src 'self' data: https://*.basemaps.cartocdn.com https://unpkg.com; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// altSvcMiddleware advertises HTTP/3 on the same port.
func altSvcMiddleware(addr string, next http.Handler) http.Handler {
	_, port, _ := net.SplitHostPort(addr)
	if port == "" {
		port = "443"
	}
	altSvc := fmt.Sprintf(`h3=":%s"; ma=86400`, port)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", altSvc)
		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is done or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.tcpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)

	if s.tlsCfg == nil {
		s.mu.Unlock()
		s.logger.Info("chassis started", "addr", s.addr, "tcp", "HTTP/1.1")
		go func() {
			if err := s.tcpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("TCP: %w", err)
			}
		}()
		return wait(ctx, errCh)
	}

	tcpTLS := s.tlsCfg.Clone()
	tcpTLS.NextProtos = []string{"h2", "http/1.1"}
	s.tcpServer.TLSConfig = tcpTLS

	if s.http3 {
		quicTLS := s.tlsCfg.Clone()
		quicTLS.NextProtos = []string{http3.NextProtoH3}
		ln, err := quic.ListenAddrEarly(s.addr, quicTLS, &quic.Config{
			MaxIdleTimeout:  60 * time.Second,
			KeepAlivePeriod: 20 * time.Second,
		})
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("QUIC listen: %w", err)
		}
		s.quicLn = ln
		s.h3Server = &http3.Server{Handler: s.handler}
		go func() {
			if err := s.h3Server.ServeListener(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
				errCh <- fmt.Errorf("HTTP/3: %w", err)
			}
		}()
	}
	s.mu.Unlock()

	s.logger.Info("chassis started", "addr", s.addr, "tcp", "HTTP/1.1+HTTP/2 (TLS)", "http3", s.http3)
	go func() {
		tcpLn, err := tls.Listen("tcp", s.addr, tcpTLS)
		if err != nil {
			errCh <- fmt.Errorf("TCP listen: %w", err)
			return
		}
		if err := s.tcpServer.Serve(tcpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("TCP: %w", err)
		}
	}()
	return wait(ctx, errCh)
}

func wait(ctx context.Context, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop gracefully shuts down every listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.h3Server != nil {
		if err := s.h3Server.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.quicLn != nil {
		if err := s.quicLn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.logger.Info("chassis stopped")
	return firstErr
}
