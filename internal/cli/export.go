package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export memories as JSON",
		Long:  "Write an export document with every memory, oldest first. Filter by layer with -l.",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}

	cmd.Flags().StringP("layer", "l", "", "Filter by layer: daily or global")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	layerStr, _ := cmd.Flags().GetString("layer")
	layer, err := parseLayer(layerStr)
	if err != nil {
		exitErr("export", err)
	}

	e, err := openEngine(cmd)
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	n, err := e.Export(cmd.Context(), args[0], layer)
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.Marshal(map[string]any{"ok": true, "path": args[0], "count": n})
	fmt.Println(string(b))
}
