// Command mcp-server exposes the autogen tools as an HTTP endpoint for
// agent frameworks.
//
// Usage:
//
//	go run ./cmd/mcp-server --port 8080
//
// Tool call endpoint: POST /tool
// Schema endpoint:    GET  /schema
// Health endpoint:    GET  /health
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/njchilds90/goautogen/internal/tool"
)

func main() {
	port := pflag.IntP("port", "p", 8080, "port to listen on")
	debug := pflag.Bool("debug", false, "log every tool call in detail")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("autogen MCP server listening", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           tool.NewHandler(logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
