package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wanyview/kaidison-system/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall memories relevant to a query",
		Long:  "Rank stored memories by keyword overlap and embedding similarity. Returned memories have their access count bumped.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().StringP("layer", "l", "", "Filter by layer: daily or global")
	cmd.Flags().IntP("top-k", "k", engine.DefaultTopK, "Max results")
	cmd.Flags().Bool("keyword-only", false, "Skip the embedding search")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	layerStr, _ := cmd.Flags().GetString("layer")
	topK, _ := cmd.Flags().GetInt("top-k")
	keywordOnly, _ := cmd.Flags().GetBool("keyword-only")
	query := strings.Join(args, " ")

	layer, err := parseLayer(layerStr)
	if err != nil {
		exitErr("recall", err)
	}

	e, err := openEngine(cmd)
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	results, err := e.Recall(cmd.Context(), query, engine.RecallParams{
		Layer:       layer,
		TopK:        topK,
		KeywordOnly: keywordOnly,
	})
	if err != nil {
		exitErr("recall", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
