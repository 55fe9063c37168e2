package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tobgro/streamstore/cmd/util"
	"github.com/tobgro/streamstore/lib/segdb"
	"github.com/tobgro/streamstore/lib/segdb/engines/larch"
)

var (
	// SnapshotCmd represents the snapshot command group
	SnapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Work with persistent store snapshots",
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect <file>",
		Short: "Load a snapshot and print store statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
)

func init() {
	SnapshotCmd.AddCommand(inspectCmd)

	key := "json"
	inspectCmd.Flags().Bool(key, false, util.WrapString("Print the statistics as JSON"))
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	db := larch.NewLarchDB(nil)
	if !db.SupportsFeature(segdb.FeatureLoad) {
		return fmt.Errorf("engine does not support snapshots")
	}
	if err := db.Load(file); err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	info := db.GetInfo()

	if viper.GetBool("json") {
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("engine:           %s\n", info.DbType)
	fmt.Printf("segments:         %d\n", info.SegmentCount)
	fmt.Printf("entries:          %d\n", info.EntryCount)
	fmt.Printf("est. size:        %d bytes\n", info.SizeBytes)
	fmt.Printf("segment interval: %d ms\n", db.SegmentInterval())

	return nil
}
