package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/vectorbank/internal/client"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

var (
	outputJSON      bool
	searchVector    string
	searchThreshold float64
	searchLimit     int
	searchSource    string
	searchExact     bool
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets <collection>",
	Short: "Show each dimension bucket of a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuckets,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <collection> [dimension]",
	Short: "Rebuild the approximate index of one or all buckets",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRebuild,
}

var searchCmd = &cobra.Command{
	Use:   "search <collection>",
	Short: "Search a collection by cosine similarity",
	Long: `Searches the bucket matching the query vector's length.
The vector is a JSON array given with --vector, or read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	for _, c := range []*cobra.Command{bucketsCmd, rebuildCmd, searchCmd} {
		c.Flags().StringVar(&apiURL, "api-url", "", "vectorbank API URL (or "+APIURLEnv+")")
		c.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
		rootCmd.AddCommand(c)
	}

	searchCmd.Flags().StringVar(&searchVector, "vector", "", "query vector as a JSON array")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", types.DefaultThreshold, "minimum cosine similarity")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", types.DefaultLimit, "maximum number of results")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "only return records from this source")
	searchCmd.Flags().BoolVar(&searchExact, "exact", false, "skip the approximate index")
}

func newClient() (*client.Client, error) {
	u, err := resolveAPIURL()
	if err != nil {
		return nil, err
	}
	return client.New(u), nil
}

func runBuckets(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	buckets, err := c.Buckets(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get buckets: %w", err)
	}
	return printBuckets(cmd, buckets)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	collection := args[0]

	var dims []int
	if len(args) == 2 {
		dim, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid dimension %q: %w", args[1], err)
		}
		dims = append(dims, dim)
	} else {
		buckets, err := c.Buckets(ctx, collection)
		if err != nil {
			return fmt.Errorf("failed to get buckets: %w", err)
		}
		for _, b := range buckets {
			if b.Strategy == types.StrategyApproximate {
				dims = append(dims, b.Dimension)
			}
		}
	}

	var rebuilt []types.BucketStatus
	for _, dim := range dims {
		st, err := c.Rebuild(ctx, collection, dim)
		if err != nil {
			return fmt.Errorf("failed to rebuild %d: %w", dim, err)
		}
		rebuilt = append(rebuilt, *st)
	}
	return printBuckets(cmd, rebuilt)
}

func runSearch(cmd *cobra.Command, args []string) error {
	vector, err := parseVector(searchVector, cmd.InOrStdin())
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	opts := types.SearchOpts{
		Threshold:  types.Threshold(searchThreshold),
		Limit:      searchLimit,
		SourceID:   searchSource,
		ForceExact: searchExact,
	}
	resp, err := c.Search(cmd.Context(), args[0], vector, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if outputJSON {
		return printJSON(cmd, resp)
	}

	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	cmd.Printf("%d results from the %d bucket (%s):\n", len(resp.Results), resp.Dimension, resp.Path)
	for i, r := range resp.Results {
		cmd.Printf("[%d] %s (%.4f)\n", i+1, r.ID, r.Score)
	}
	return nil
}

// parseVector decodes a JSON array from s, or from in when s is empty
func parseVector(s string, in io.Reader) ([]float32, error) {
	var data []byte
	if strings.TrimSpace(s) != "" {
		data = []byte(s)
	} else {
		b, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("failed to read vector: %w", err)
		}
		data = b
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, fmt.Errorf("vector must be a JSON array of numbers: %w", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector is empty")
	}
	return vector, nil
}

func printBuckets(cmd *cobra.Command, buckets []types.BucketStatus) error {
	if outputJSON {
		return printJSON(cmd, buckets)
	}
	for _, b := range buckets {
		cmd.Printf("%5d  %-11s  %-8s  records=%d", b.Dimension, b.Strategy, b.State, b.Records)
		if b.ModelHint != "" {
			cmd.Printf("  model=%s", b.ModelHint)
		}
		cmd.Println()
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
