package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WessleyAI/thrifter/engine/domain"
	"github.com/WessleyAI/thrifter/engine/rag"
	"github.com/WessleyAI/thrifter/engine/search"
)

func newSearchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a search against the API",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			location, _ := cmd.Flags().GetString("location")
			keywordOnly, _ := cmd.Flags().GetBool("keyword-only")
			user, _ := cmd.Flags().GetString("user")

			body := map[string]any{
				"query":   strings.Join(args, " "),
				"limit":   limit,
				"user_id": user,
				"filters": domain.Filters{Location: location},
			}
			if keywordOnly {
				body["use_semantic"] = false
			}
			var resp search.Response
			if err := newAPIClient(v.GetString("api.url")).postJSON("/search", body, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			mode := "keyword"
			if resp.Semantic {
				mode = "semantic+keyword"
			}
			_, _ = fmt.Fprintf(out, "%d results for %q (%s, %dms)\n", resp.Total, resp.Query, mode, resp.TookMs)
			for i, r := range resp.Results {
				_, _ = fmt.Fprintf(out, "%2d. %-28s %-18s %.3f  %s\n",
					i+1, r.Shop.Name, r.Shop.Location.Label, r.Score, strings.Join(r.Reasons, "; "))
			}
			if len(resp.Degraded) > 0 {
				_, _ = fmt.Fprintf(out, "degraded: %v\n", resp.Degraded)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "maximum results")
	cmd.Flags().String("location", "", "location id filter, e.g. hsr-layout")
	cmd.Flags().Bool("keyword-only", false, "skip semantic retrieval")
	cmd.Flags().String("user", "", "user id for personalization")
	return cmd
}

func newAskCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the shopping assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topK, _ := cmd.Flags().GetInt("top-k")
			user, _ := cmd.Flags().GetString("user")

			var ans rag.Answer
			req := rag.Request{Question: strings.Join(args, " "), UserID: user, TopK: topK}
			if err := newAPIClient(v.GetString("api.url")).postJSON("/rag/query", req, &ans); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, ans.Answer)
			_, _ = fmt.Fprintf(out, "\nconfidence %.2f, intent %s\n", ans.Confidence, ans.Analysis.Intent)
			for _, s := range ans.Sources {
				_, _ = fmt.Fprintf(out, "  - %s (%s)\n", s.Name, s.Location.Label)
			}
			return nil
		},
	}
	cmd.Flags().Int("top-k", 0, "number of shops to retrieve")
	cmd.Flags().String("user", "", "user id for personalization")
	return cmd
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show corpus and index state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st search.Stats
			if err := newAPIClient(v.GetString("api.url")).getJSON("/stats", &st); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "version:   %d\n", st.Version)
			_, _ = fmt.Fprintf(out, "shops:     %d (%d indexed)\n", st.TotalShops, st.Indexed)
			_, _ = fmt.Fprintf(out, "index:     %s\n", st.IndexBackend)
			_, _ = fmt.Fprintf(out, "embedding: %s %s dims=%d\n", st.EmbedBackend, st.EmbeddingModel, st.Dimension)
			if st.IndexError != "" {
				_, _ = fmt.Fprintf(out, "index error: %s\n", st.IndexError)
			}
			return nil
		},
	}
}
