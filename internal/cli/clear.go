package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete memories",
		Long:  "Delete every memory of a layer, or all memories when no layer is given. Requires --yes.",
		Run:   runClear,
	}

	cmd.Flags().StringP("layer", "l", "", "Layer to clear: daily or global")
	cmd.Flags().Bool("yes", false, "Confirm deletion")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	layerStr, _ := cmd.Flags().GetString("layer")
	yes, _ := cmd.Flags().GetBool("yes")

	if !yes {
		exitErr("clear", fmt.Errorf("refusing to delete without --yes"))
	}
	layer, err := parseLayer(layerStr)
	if err != nil {
		exitErr("clear", err)
	}

	e, err := openEngine(cmd)
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	deleted, err := e.Clear(cmd.Context(), layer)
	if err != nil {
		exitErr("clear", err)
	}

	fmt.Printf(`{"ok":true,"deleted":%d}`+"\n", deleted)
}
