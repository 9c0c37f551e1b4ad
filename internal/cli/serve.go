package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credence/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat, sources, gold-search and cred-check API",
	Long: `Serve starts the HTTP API:

  POST /api/chat          {query, history}
  POST /api/chat-sources  {query, topK}
  POST /api/gold-search   {query, limit}
  POST /api/cred-check    ?mode=full|bypass
  GET  /health
  GET  /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger, needs{llm: true, embedding: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(a.pipeline(), a.verifier(), a.store, cfg.Server, logger, a.metrics)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	_ = settings.BindPFlag("server::addr", serveCmd.Flags().Lookup("addr"))
}
