package main

import (
	"fmt"
	"strings"

	"chainrig/internal/router"
	"chainrig/internal/transport"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sendAddr string

// sendCmd sends one command to a running server
var sendCmd = &cobra.Command{
	Use:   "send <command> [args...]",
	Short: "Send a command to a running chainrig over OSC",
	Long: `Sends one command to the server's OSC port. Arguments that look like
integers or floats are sent as numbers, everything else as strings.

Example:
  chainrig send setNext A
  chainrig send switchAfter 2.5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendAddr, "addr", "", "Server OSC address (default: osc.addr from config)")
}

func runSend(cmd *cobra.Command, args []string) error {
	name := args[0]
	if _, ok := router.KindOf(name); !ok {
		return fmt.Errorf("unknown command %q (known: %s)", name, strings.Join(kindNames(), ", "))
	}

	addr := sendAddr
	if addr == "" {
		addr = cfg.OSC.Addr
	}
	address := "/" + strings.Trim(cfg.Namespace, "/") + "/" + name
	oscArgs := transport.TypedArgs(args[1:])

	if err := transport.SendOSC(addr, address, oscArgs...); err != nil {
		return err
	}
	logger.Debug("sent", zap.String("to", addr), zap.String("address", address), zap.Any("args", oscArgs))
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", address, addr)
	return nil
}

func kindNames() []string {
	kinds := router.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
