package send

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ValentinKolb/dMsg/cmd/util"
	"github.com/ValentinKolb/dMsg/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// SendCmd delivers a single message and spools it if the server cannot be reached
	SendCmd = &cobra.Command{
		Use:   "send [type] [payload]",
		Short: "Send a message to the dMsg server",
		Long: `Send a message to the dMsg server. The payload is sent as is, decoded from hex (--hex),
read from a file (--file) or parsed as JSON and encoded with the configured serializer (--object).
A message that cannot be delivered is written to the spool directory and sent by a later "dmsg spool sync".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: run,
	}
)

func init() {
	util.SetupClientFlags(SendCmd)

	key := "hex"
	SendCmd.Flags().Bool(key, false, util.WrapString("The payload is hex encoded"))

	key = "file"
	SendCmd.Flags().String(key, "", util.WrapString("Read the payload from a file instead of the arguments"))

	key = "object"
	SendCmd.Flags().Bool(key, false, util.WrapString("The payload is a JSON document that is encoded with the configured serializer. With the gob serializer the document must be a JSON object"))
}

func run(cmd *cobra.Command, args []string) error {
	messageType, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid message type %s: %w", args[0], err)
	}

	payload, err := readPayload(args)
	if err != nil {
		return err
	}

	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}
	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	sender, err := client.NewSender(*config, t)
	if err != nil {
		return err
	}

	if err := send(sender, uint8(messageType), payload); err != nil {
		_ = sender.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), config.SocketTimeout*time.Duration(max(config.RetryCount, 1)))
	defer cancel()

	removed := sender.SyncMemory(ctx)
	state := sender.AvailabilityReport(uint8(messageType))

	if err := sender.Close(); err != nil {
		return err
	}

	switch {
	case removed == 1 && state == client.Operational:
		fmt.Println("sent successfully")
	case removed == 1:
		fmt.Println("message rejected by the server")
	default:
		fmt.Printf("delivery failed, message spooled to %s\n", config.SpoolDir)
	}
	return nil
}

// send buffers the payload, encoding it first if --object is set
func send(sender *client.Sender, messageType uint8, payload []byte) error {
	if !viper.GetBool("object") {
		return sender.Send(messageType, payload)
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	return sender.SendObject(messageType, v, s)
}

func readPayload(args []string) ([]byte, error) {
	var raw []byte
	switch {
	case viper.GetString("file") != "":
		b, err := os.ReadFile(viper.GetString("file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		raw = b
	case len(args) == 2:
		raw = []byte(args[1])
	default:
		return nil, fmt.Errorf("either a payload argument or --file is required")
	}

	if viper.GetBool("hex") {
		b, err := hex.DecodeString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return b, nil
	}
	return raw, nil
}
