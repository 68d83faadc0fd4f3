package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/docgate/internal/airtable"
	"github.com/agentworkforce/docgate/internal/config"
	"github.com/agentworkforce/docgate/internal/httpapi"
	"github.com/agentworkforce/docgate/internal/statelog"
	"github.com/agentworkforce/docgate/internal/wsrpc"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket gateway and the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	env := config.ServerFromEnv()

	store, err := config.LoadAirtable(filepath.Join(configDir, "airtable.json"))
	if err != nil {
		return fmt.Errorf("load airtable config: %w", err)
	}

	registry, err := config.NewProjectRegistry(filepath.Join(configDir, "projects.json"))
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	defer registry.Close()
	if err := registry.Watch(); err != nil {
		log.Printf("projects: watch disabled: %v", err)
	}

	client := airtable.NewClient(airtable.ClientOptions{
		APIKey: store.APIKey,
		BaseID: store.BaseID,
	})
	docs := airtable.NewDocs(client, store.Tables.Ref(), airtable.NewChoiceCache(), registry)

	inner, err := statelog.BuildSinkFromDSN(env.StateLogDSN)
	if err != nil {
		return fmt.Errorf("state log: %w", err)
	}
	sink := statelog.NewAsyncSink(inner, 256)
	defer sink.Close()

	gateway := wsrpc.NewServer(wsrpc.ServerOptions{
		Bearer:  env.Bearer,
		Docs:    docs,
		Sink:    sink,
		Name:    "docgate",
		Version: version,
		WSPort:  portOf(env.WSAddr),
	})
	api := httpapi.NewServer(httpapi.ServerConfig{
		Version:    version,
		UIDir:      env.UIDir,
		A2ALogPath: env.A2ALogPath,
		Chat: httpapi.ChatConfig{
			OpenAIKey:        env.OpenAIKey,
			OpenAIModel:      env.OpenAIModel,
			AnthropicKey:     env.AnthropicKey,
			AnthropicModel:   env.AnthropicModel,
			AnthropicVersion: env.AnthropicVersion,
		},
	})

	wsSrv := &http.Server{Addr: env.WSAddr, Handler: gateway}
	apiSrv := &http.Server{Addr: env.HTTPAddr, Handler: api}

	errCh := make(chan error, 2)
	go func() { errCh <- wsSrv.ListenAndServe() }()
	go func() { errCh <- apiSrv.ListenAndServe() }()
	log.Printf("docgate v%s: ws on %s, http on %s", version, env.WSAddr, env.HTTPAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := wsSrv.Shutdown(ctx); err != nil {
		log.Printf("ws shutdown: %v", err)
	}
	if err := apiSrv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	return nil
}

// portOf extracts the numeric port from a listen address for the info
// capability payload. Unparsable addresses report zero.
func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
