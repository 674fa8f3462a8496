package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/replygate/internal/relevance"
)

// scoreCmd prints the similarity scores the engine would compute, for
// tuning thresholds by hand.
func scoreCmd() *cobra.Command {
	var (
		prior   string
		ownLast string
		elapsed time.Duration
	)
	cmd := &cobra.Command{
		Use:   "score <message> [other]",
		Short: "Print relevance scores for a message",
		Long: "With one other text, prints the cosine similarity of the two.\n" +
			"With --prior and --own, prints the time-weighted context score used for follow-ups.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := args[0]
			fmt.Printf("tokens: %q\n", relevance.Tokenize(msg))
			if len(args) == 2 {
				fmt.Printf("similarity: %.4f\n", relevance.Similarity(msg, args[1]))
			}
			if prior != "" || ownLast != "" {
				fmt.Printf("triple similarity: %.4f\n", relevance.TripleSimilarity(msg, prior, ownLast))
				fmt.Printf("time weight (%s): %.4f\n", elapsed, relevance.TimeWeight(elapsed))
				fmt.Printf("context score: %.4f\n", relevance.ContextSimilarity(msg, prior, ownLast, elapsed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prior, "prior", "", "prior message in the thread")
	cmd.Flags().StringVar(&ownLast, "own", "", "the agent's last message in the thread")
	cmd.Flags().DurationVar(&elapsed, "elapsed", 0, "time since the agent's last message")
	return cmd
}
