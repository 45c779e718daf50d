package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wanyview/kaidison-system/internal/engine"
	"github.com/wanyview/kaidison-system/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().String("context", "", "JSON object of context annotations")
	cmd.Flags().BoolP("global", "g", false, "Store in the global layer")
	cmd.Flags().StringP("type", "t", "", "Memory type, e.g. decision, preference, commitment")
	cmd.Flags().StringP("source", "s", "", "Where the memory came from, e.g. user")
	cmd.Flags().BoolP("important", "i", false, "Mark as important")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	ctxJSON, _ := cmd.Flags().GetString("context")
	global, _ := cmd.Flags().GetBool("global")
	typ, _ := cmd.Flags().GetString("type")
	source, _ := cmd.Flags().GetString("source")
	important, _ := cmd.Flags().GetBool("important")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("remember", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	mctx := model.Context{}
	if ctxJSON != "" {
		if err := json.Unmarshal([]byte(ctxJSON), &mctx); err != nil {
			exitErr("parse --context", err)
		}
	}
	if global {
		mctx[engine.KeyGlobalLevel] = true
	}
	if typ != "" {
		mctx[engine.KeyType] = typ
	}
	if source != "" {
		mctx[engine.KeySource] = source
	}
	if important {
		mctx[engine.KeyImportance] = true
	}

	e, err := openEngine(cmd)
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	id, err := e.Remember(cmd.Context(), strings.TrimSpace(content), mctx)
	if err != nil {
		exitErr("remember", err)
	}

	b, _ := json.Marshal(map[string]string{"id": id})
	fmt.Println(string(b))
}
