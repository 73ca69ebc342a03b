package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lodestone-ai/lodestone/internal/app"
)

var reembedClear bool

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Re-embed the corpus with the active embedding model",
	Long: `Re-embed walks every pending document and regenerates its chunks and
embeddings with the configured model.

With --clear, all existing embeddings are nulled first and every embedded
document is reset to pending. Until the walk completes, search returns
partial results. The walk is resumable: interrupt it and run reembed
again to continue where it stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReembed()
	},
}

func init() {
	reembedCmd.Flags().BoolVar(&reembedClear, "clear", false, "clear all embeddings before re-embedding")
	rootCmd.AddCommand(reembedCmd)
}

func runReembed() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if reembedClear {
		if !confirmClear() {
			fmt.Println("aborted")
			return nil
		}
		chunks, docs, err := a.Engine.ClearAllEmbeddings(ctx)
		if err != nil {
			return fmt.Errorf("clearing embeddings: %w", err)
		}
		fmt.Printf("cleared %d chunk embeddings, reset %d documents\n", chunks, docs)
	}

	total, err := a.Engine.TotalChunkCount(ctx)
	if err != nil {
		return fmt.Errorf("counting chunks: %w", err)
	}
	fmt.Printf("re-embedding corpus of %d chunks with model %s\n", total, cfg.ActiveEmbeddingModel().ID)

	processed, failed, err := a.Worker.RunReembed(ctx)
	if err != nil {
		fmt.Printf("interrupted after %d documents (%d failed); run reembed again to resume\n", processed, failed)
		return err
	}

	fmt.Printf("done: %d documents re-embedded, %d failed\n", processed, failed)
	return nil
}

// confirmClear asks for interactive confirmation before the destructive
// clear step.
func confirmClear() bool {
	fmt.Print("this clears ALL embeddings; search returns nothing until re-embedding finishes. Continue? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
