package spool

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ValentinKolb/dMsg/cmd/util"
	"github.com/ValentinKolb/dMsg/lib/lockmgr"
	"github.com/ValentinKolb/dMsg/lib/spool"
	libUtil "github.com/ValentinKolb/dMsg/lib/util"
	"github.com/ValentinKolb/dMsg/rpc/client"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// SpoolCommands represents the spool command group
	SpoolCommands = &cobra.Command{
		Use:   "spool",
		Short: "Inspect and deliver spooled messages",
	}
	lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List the messages in the spool directory",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Deliver all spooled messages once",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
)

func init() {
	util.SetupClientFlags(SpoolCommands)

	key := "payload"
	lsCmd.Flags().Bool(key, false, util.WrapString("Print the payload of each message as hex"))

	SpoolCommands.AddCommand(lsCmd)
	SpoolCommands.AddCommand(syncCmd)
}

func runList(_ *cobra.Command, _ []string) error {
	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	sp := spool.New(fs, config.SpoolDir, lockmgr.NewFileLockManager(fs, nil, config.StorageLockExpiration))

	paths, err := sp.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLIENT\tTYPE\tMD5\tSIZE")
	var total int64
	for _, path := range paths {
		msg, err := sp.Read(path)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			continue
		}
		total += int64(len(msg.Payload))
		_, _ = fmt.Fprintf(w, "%x\t%d\t%s\t%s\n", msg.ClientID, msg.Type, msg.Hash, libUtil.FormatBytes(int64(len(msg.Payload))))
		if viper.GetBool("payload") {
			_, _ = fmt.Fprintf(w, "\t\t%s\t\n", msg.HexPayload())
		}
	}
	_ = w.Flush()

	fmt.Printf("\n%d messages, %s in %s\n", len(paths), libUtil.FormatBytes(total), sp.Root())
	return nil
}

func runSync(cmd *cobra.Command, _ []string) error {
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

	removed := sender.SyncDisk(cmd.Context())
	if err := sender.Close(); err != nil {
		return err
	}

	remaining, err := sender.Spool().List()
	if err != nil {
		return err
	}
	fmt.Printf("%d messages delivered, %d remaining\n", removed, len(remaining))
	return nil
}
