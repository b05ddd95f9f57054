// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ApiConfig holds configuration for the API server.
type ApiConfig struct {
	ListenAddress string
}

// Api is the read-only REST API server.
type Api struct {
	config     ApiConfig
	logger     *slog.Logger
	node       Node
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new API server instance.
func New(
	cfg ApiConfig,
	node Node,
	logger *slog.Logger,
) *Api {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":3000"
	}
	return &Api{
		config: cfg,
		logger: logger,
		node:   node,
	}
}

// Start starts the HTTP server in a background goroutine.
func (a *Api) Start(
	ctx context.Context,
) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}

	server := &http.Server{
		Addr: a.config.ListenAddress,
		// Wrap with h2c so gRPC-style clients can speak
		// HTTP/2 without TLS
		Handler: h2c.NewHandler(
			a.routes(),
			&http2.Server{},
		),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.httpServer = server
	a.mu.Unlock()

	// Start the server with deterministic error detection
	if err := a.startServer(server); err != nil {
		a.mu.Lock()
		a.httpServer = nil
		a.mu.Unlock()
		return err
	}

	a.logger.Info(
		"API listener started on " +
			a.config.ListenAddress,
	)

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		a.mu.Lock()
		srv := a.httpServer
		a.httpServer = nil
		a.mu.Unlock()

		if srv != nil {
			a.logger.Debug(
				"context cancelled, shutting down " +
					"API server",
			)
			//nolint:contextcheck
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			if err := srv.Shutdown(
				shutdownCtx,
			); err != nil {
				a.logger.Error(
					"failed to shutdown API server "+
						"on context cancellation",
					"error", err,
				)
			}
		}
	}()

	return nil
}

// routes builds the request mux.
func (a *Api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", a.handleRoot)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc(
		"GET /api/v1/status",
		a.handleStatus,
	)
	mux.HandleFunc(
		"GET /api/v1/proposals",
		a.handleProposals,
	)
	mux.HandleFunc(
		"GET /api/v1/proposals/{id}",
		a.handleProposal,
	)
	mux.HandleFunc(
		"GET /api/v1/proposals/{id}/votes",
		a.handleProposalVotes,
	)
	mux.HandleFunc(
		"GET /api/v1/operations/{id}",
		a.handleOperation,
	)
	mux.HandleFunc(
		"GET /api/v1/treasury",
		a.handleTreasuryAssets,
	)
	mux.HandleFunc(
		"GET /api/v1/treasury/{asset}",
		a.handleTreasuryBalance,
	)
	mux.HandleFunc(
		"GET /api/v1/projects",
		a.handleProjects,
	)
	mux.HandleFunc(
		"GET /api/v1/projects/{id}",
		a.handleProject,
	)
	mux.HandleFunc(
		"GET /api/v1/params/{kind}",
		a.handleParameterNames,
	)
	mux.HandleFunc(
		"GET /api/v1/params/{kind}/{name}",
		a.handleParameter,
	)
	mux.HandleFunc(
		"GET /api/v1/roles/{role}",
		a.handleRoleMembers,
	)
	mux.HandleFunc(
		"GET /api/v1/audit",
		a.handleAudit,
	)
	return mux
}

// Stop gracefully shuts down the HTTP server.
func (a *Api) Stop(
	ctx context.Context,
) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()

	if srv != nil {
		a.logger.Debug(
			"shutting down API server",
		)
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf(
				"failed to shutdown API server: %w",
				err,
			)
		}
	}
	return nil
}

// startServer starts the HTTP server with deterministic
// error detection. It binds the listening socket first so
// port conflicts are detected immediately, then serves in
// a background goroutine.
func (a *Api) startServer(
	server *http.Server,
) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf(
			"failed to listen for API server: %w",
			err,
		)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(
				"API server error",
				"error", err,
			)
		}
	}()
	return nil
}
