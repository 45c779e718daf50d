package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wanyview/kaidison-system/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Evict memories beyond each layer's capacity",
		Run:   runCompress,
	}

	cmd.Flags().String("strategy", engine.StrategyImportance, "Eviction strategy")

	RootCmd.AddCommand(cmd)
}

func runCompress(cmd *cobra.Command, args []string) {
	strategy, _ := cmd.Flags().GetString("strategy")

	e, err := openEngine(cmd)
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	res, err := e.Compress(cmd.Context(), strategy)
	if err != nil {
		exitErr("compress", err)
	}

	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
}
