package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/corpus/internal/types"
	"github.com/xhad/corpus/pkg/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr   string
		memory bool
		stream bool
		noChat bool
	)

	cmd := &cobra.Command{
		Use:   "serve [files|dirs|urls...]",
		Short: "Serve the corpus over HTTP and WebSocket",
		Long: `Serve the JSON article API and the WebSocket chat endpoint.
Any inputs given are ingested before the server starts listening.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = addr
			}
			if flags.Changed("stream") {
				cfg.UI.Streaming = stream
			}
			ctx := cmd.Context()

			bars := &stageBars{}
			p, closeFn, err := newPipeline(ctx, true, memory, bars.onEvent)
			if err != nil {
				return err
			}
			defer closeFn()

			if len(args) > 0 {
				raws, err := loadInputs(ctx, args)
				if err != nil {
					return err
				}
				if err := ingest(ctx, p, bars, raws); err != nil {
					return err
				}
			}

			var chat types.Chatter
			if !noChat {
				chatEngine, err := newChatEngine()
				if err != nil {
					return err
				}
				chat = chatEngine
			}

			srv, err := server.NewWithConfig(server.ServerConfig{
				Addr:     cfg.Server.Addr,
				Pipeline: p,
				Chat:     chat,
				NewFetcher: func(onProgress func(url string)) (types.Fetcher, error) {
					return newScraper(onProgress)
				},
				Streaming:       cfg.UI.Streaming,
				SearchLimit:     cfg.Database.SearchLimit,
				ReadTimeout:     cfg.Server.ReadTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				AllowedOrigins:  cfg.Server.AllowedOrigins,
				Logger:          logger.Named("server"),
			})
			if err != nil {
				return err
			}

			color.Cyan("Serving corpus on %s", cfg.Server.Addr)
			logger.Info("starting server", zap.String("addr", cfg.Server.Addr), zap.Bool("chat", chat != nil))
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&memory, "memory", false, "Use an in-memory store instead of Postgres")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream answers over WebSocket (default from config)")
	cmd.Flags().BoolVar(&noChat, "no-chat", false, "Answer queries with search hits only")
	return cmd
}
