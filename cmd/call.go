package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/rpc"
)

type clientFlags struct {
	addr string
	tls  bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "localhost:8085", "bridge gRPC address")
	cmd.Flags().BoolVar(&f.tls, "tls", false, "connect with TLS")
}

func (f *clientFlags) dial() (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if f.tls {
		creds = credentials.NewTLS(nil)
	}

	cc, err := grpc.NewClient(f.addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return cc, nil
}

func newCallCommand() *cobra.Command {
	var (
		flags     clientFlags
		arguments string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <method>",
		Short: "Run one bridge command and print its JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var parsed map[string]any
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &parsed); err != nil {
					return fmt.Errorf("invalid --args: %w", err)
				}
			}

			cc, err := flags.dial()
			if err != nil {
				return err
			}
			defer cc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := rpc.NewClient(cc).CallJSON(ctx, args[0], parsed)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&arguments, "args", "", "command arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "call timeout")
	return cmd
}

type eventLine struct {
	Type    event.Type      `json:"type"`
	Epoch   string          `json:"epoch"`
	Payload json.RawMessage `json:"payload"`
}

func newEventsCommand() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "events [type...]",
		Short: "Print push events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cc, err := flags.dial()
			if err != nil {
				return err
			}
			defer cc.Close()

			types := make([]event.Type, 0, len(args))
			for _, arg := range args {
				types = append(types, event.Type(arg))
			}

			stream, err := rpc.NewClient(cc).StreamEvents(ctx, types...)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				e, err := stream.Recv()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if err := enc.Encode(&eventLine{Type: e.Type, Epoch: e.Epoch, Payload: e.Payload}); err != nil {
					return err
				}
			}
		},
	}

	flags.register(cmd)
	return cmd
}
