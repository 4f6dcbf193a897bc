package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"untestables/gap"
	"untestables/store"
)

var (
	gapsLimit   int
	gapsMinSize int
	gapsJSON    bool
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List unprocessed star ranges",
	RunE:  runGaps,
}

func init() {
	gapsCmd.Flags().IntVar(&gapsLimit, "limit", 100, "maximum number of gaps to print")
	gapsCmd.Flags().IntVar(&gapsMinSize, "min-size", 0, "skip gaps smaller than this")
	gapsCmd.Flags().BoolVar(&gapsJSON, "json", false, "print gaps as JSON")
}

func runGaps(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := store.New(ctx, cfg.DatabaseURL, componentLogger("store"))
	if err != nil {
		return errors.Wrap(err, "connecting to database")
	}
	defer db.Close()

	processed, err := db.GetProcessedStarCounts(ctx)
	if err != nil {
		return errors.Wrap(err, "reading processed star counts")
	}

	gaps := gap.Calculate(processed, cfg.Bound(), cfg.ChunkSize)
	selected := gaps[:0:0]
	for _, g := range gaps {
		if g.Size() < gapsMinSize {
			continue
		}
		selected = append(selected, g)
		if len(selected) >= gapsLimit {
			break
		}
	}

	if gapsJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(selected)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIN\tMAX\tSIZE")
	for _, g := range selected {
		fmt.Fprintf(w, "%d\t%d\t%d\n", g.Start, g.End, g.Size())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d of %d gaps shown\n", len(selected), len(gaps))
	return nil
}
