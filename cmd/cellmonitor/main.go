// Command cellmonitor is the operator client of the robot cell supervisor. It sends
// commands, queries status, alarms and history, and streams cell events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"robotcell/internal/ipc"
	"robotcell/pkg/types"
)

var (
	ipcConfig = types.IPCConfig{Type: "tcp"}

	collisionID  int
	historyLimit int

	rootCmd = &cobra.Command{
		Use:          "cellmonitor",
		Short:        "Operator client of the robot cell supervisor",
		SilenceUsage: true,
	}

	sendCmd = &cobra.Command{
		Use:       "send <action>",
		Short:     "Send an operator command (" + strings.Join(ipc.Actions, ", ") + ")",
		Args:      cobra.ExactArgs(1),
		ValidArgs: ipc.Actions,
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra map[string]interface{}
			if args[0] == ipc.ActionChangeCollision {
				if !cmd.Flags().Changed("id") {
					return fmt.Errorf("%s needs --id", args[0])
				}
				extra = map[string]interface{}{"id": collisionID}
			}
			return request(cmd.Context(), ipc.CommandMessage(args[0], extra))
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the cell status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.Context(), ipc.NewMessage(ipc.MsgStatus, nil))
		},
	}

	alarmsCmd = &cobra.Command{
		Use:   "alarms",
		Short: "Print the active alarms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.Context(), ipc.NewMessage(ipc.MsgAlarms, nil))
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Print the alarm history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]interface{}{}
			if historyLimit > 0 {
				data["limit"] = historyLimit
			}
			return request(cmd.Context(), ipc.NewMessage(ipc.MsgHistory, data))
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd.Context(), ipc.NewMessage(ipc.MsgConfig, nil))
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream cell events until interrupted",
		RunE:  watch,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ipcConfig.Address, "address", "a", "127.0.0.1", "Supervisor IPC address")
	flags.IntVarP(&ipcConfig.Port, "port", "p", 8090, "Supervisor IPC port")
	flags.DurationVarP(&ipcConfig.Timeout, "timeout", "t", 5*time.Second, "Request timeout")

	sendCmd.Flags().IntVar(&collisionID, "id", 0, "Collision profile id for change_collision")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Number of entries (0 uses the server default)")

	rootCmd.AddCommand(sendCmd, statusCmd, alarmsCmd, historyCmd, configCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func connect() (*ipc.IPCClient, error) {
	client := ipc.NewIPCClient(ipcConfig)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// request sends msg and prints the response data.
func request(ctx context.Context, msg types.IPCMessage) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Disconnect()

	ctx, cancel := context.WithTimeout(ctx, ipcConfig.Timeout)
	defer cancel()
	resp, err := client.Request(ctx, msg)
	if err != nil {
		return err
	}
	delete(resp.Data, "ok")
	delete(resp.Data, "error")
	return printJSON(resp.Data)
}

func watch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Disconnect()

	fmt.Fprintf(os.Stderr, "Watching %s:%d, Ctrl-C to stop\n", ipcConfig.Address, ipcConfig.Port)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return fmt.Errorf("connection to supervisor lost")
		case msg := <-client.Receive():
			if msg.Type != ipc.MsgEvent {
				continue
			}
			printEvent(msg)
		}
	}
}

func printEvent(msg types.IPCMessage) {
	name, _ := msg.Data["event"].(string)
	rest := make(map[string]interface{}, len(msg.Data))
	for k, v := range msg.Data {
		if k != "event" {
			rest[k] = v
		}
	}
	payload, _ := json.Marshal(rest)
	fmt.Printf("%s  %-20s %-12s %s\n", msg.Timestamp.Format("15:04:05.000"), name, msg.Source, payload)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
