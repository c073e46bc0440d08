package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaygate/castellan/internal/toolserver"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON-RPC tool-catalog server",
		Long: `Start castellan's JSON-RPC 2.0 tool server, exposing every core operation
(onboarding, gates, tasks, proofs, spawns, assessments, documents, cost) as
a named tool over HTTP for an agent runtime to call.

Example:
  castellan serve              # Start on the default address, 127.0.0.1:8711
  castellan serve --addr :9000 # Start on a custom address`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			c, err := openCore()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			registry := toolserver.NewRegistry()
			toolserver.Register(registry, c)
			server := toolserver.NewServer(registry)

			httpServer := &http.Server{Addr: addr, Handler: server}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Println("\nShutting down...")
				cancel()
				_ = httpServer.Close()
			}()

			fmt.Printf("Starting tool server on %s\n", addr)
			fmt.Println("Press Ctrl+C to stop")

			err = httpServer.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:8711", "address to listen on")
	return cmd
}
