package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipeguard/pipeguard/pkg/ipc"
)

var sendType string

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message to a server and print the reply",
	Long: `Send one message to a server and print the reply.

With --type the message is sent as a json mode request of that type. The
argument is used as the payload when it is valid JSON and as a JSON string
otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendType, "type", "",
		"Send a json mode request of this type")
}

func runSend(cmd *cobra.Command, args []string) error {
	opts, err := ipcOptions()
	if err != nil {
		return err
	}
	client, err := ipc.NewClient(cfg.Pipe.Name, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(cmd.Context()); err != nil {
		return err
	}

	if sendType == "" {
		if err := client.SendString(args[0]); err != nil {
			return err
		}
		reply, err := client.ReceiveString()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	}

	var payload any = args[0]
	if json.Valid([]byte(args[0])) {
		payload = json.RawMessage(args[0])
	}
	var reply json.RawMessage
	if err := client.Call(sendType, payload, &reply); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(reply))
	return nil
}
