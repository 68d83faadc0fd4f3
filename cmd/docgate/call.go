package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/docgate/internal/wsrpc"
)

var (
	callURL    string
	callBearer string
)

var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Invoke one RPC method against a running gateway",
	Long: `Call dials the gateway, sends a single request, and prints the result
as indented JSON.

Example:
  docgate call ping
  docgate call list_docs '{"project":"mainframe"}'
  docgate call write_doc '{"project":"mainframe","slug":"readme","content":"hi"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callURL, "url", "ws://127.0.0.1:3001", "gateway WebSocket URL")
	callCmd.Flags().StringVar(&callBearer, "bearer", os.Getenv("DOCGATE_BEARER"), "bearer token (default: DOCGATE_BEARER)")
}

func runCall(cmd *cobra.Command, args []string) error {
	var params any
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("params must be valid JSON: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := wsrpc.Dial(ctx, wsrpc.ClientOptions{
		URL:    callURL,
		Bearer: callBearer,
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", callURL, err)
	}
	defer client.Close()

	result, err := client.Call(ctx, wsrpc.Method(args[0]), params)
	if err != nil {
		return err
	}

	var pretty any
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Println(string(result))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
