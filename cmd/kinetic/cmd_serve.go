package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spboyer/kinetic/internal/jsonrpc"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var tcpAddr string
	var tcpAllowRemote bool
	var noRescore bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a JSON-RPC 2.0 server for editor integration",
		Long: `Start a JSON-RPC 2.0 server for editor integration.

By default, the server communicates over stdin/stdout using newline-delimited JSON.
Use --tcp to start a TCP server instead; "--tcp default" uses server.addr from
.kinetic.yaml. TCP defaults to loopback (127.0.0.1). Use --tcp-allow-remote to
bind to all interfaces.

While serving, the library is rescored every library.rescore_interval.

Supported methods:
  solution.get          Get one solution
  solution.recommend    Rank solutions, optionally for one fingerprint
  solution.compare      Compare two or more solutions
  solution.setFavorite  Set or clear the favorite mark
  solution.setRating    Set or clear the manual rating
  event.record          Record an interaction`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			registry := jsonrpc.NewMethodRegistry()
			jsonrpc.RegisterHandlers(registry, jsonrpc.NewHandlerContext(a.lib))

			logger := slog.Default()
			server := jsonrpc.NewServer(registry, logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)

			if !noRescore {
				g.Go(func() error {
					return a.lib.RunRescoreLoop(ctx, a.cfg.Library.RescoreInterval)
				})
			}

			if tcpAddr != "" {
				if tcpAddr == "default" {
					tcpAddr = a.cfg.Server.Addr
				}
				tcpAddr = resolveTCPAddr(tcpAddr, tcpAllowRemote, logger)

				listener, err := jsonrpc.NewTCPListener(tcpAddr, server)
				if err != nil {
					cancel()
					_ = g.Wait()
					return fmt.Errorf("failed to start TCP server: %w", err)
				}
				fmt.Fprintf(os.Stderr, "JSON-RPC server listening on %s\n", listener.Addr())
				g.Go(func() error {
					defer cancel()
					return listener.Serve(ctx)
				})
				return g.Wait()
			}

			fmt.Fprintln(os.Stderr, "JSON-RPC server running on stdio")
			g.Go(func() error {
				// stdin closing ends the session
				defer cancel()
				server.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&tcpAddr, "tcp", "", "TCP address to listen on (e.g., :9000, or \"default\")")
	cmd.Flags().BoolVar(&tcpAllowRemote, "tcp-allow-remote", false,
		"Allow binding to non-loopback addresses (WARNING: exposes the server to the network with no authentication)")
	cmd.Flags().BoolVar(&noRescore, "no-rescore", false, "Do not rescore in the background")

	return cmd
}

// resolveTCPAddr ensures TCP addresses default to loopback unless --tcp-allow-remote is set.
func resolveTCPAddr(addr string, allowRemote bool, logger *slog.Logger) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// Likely just a port like "9000"; treat as ":9000".
		host = ""
		port = addr
	}

	if allowRemote {
		logger.Warn("TCP server binding to all interfaces, no authentication is provided",
			"address", addr)
		return addr
	}

	// Default to loopback if no host specified or if 0.0.0.0/:: is used without --tcp-allow-remote.
	if host == "" || host == "0.0.0.0" || host == "::" {
		logger.Info("JSON-RPC server listening on TCP (local only)")
		return net.JoinHostPort("127.0.0.1", port)
	}

	return addr
}
