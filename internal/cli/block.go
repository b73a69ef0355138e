package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/timzifer/pulsed/cells"
	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/store"
)

// BlockView is the JSON form of a block table.
type BlockView struct {
	Block   string          `json:"block"`
	Columns []cells.Column  `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// NewBlockCommand creates the block command group.
func NewBlockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Inspect and edit blocks as typed tables",
	}
	cmd.AddCommand(newBlockShowCommand(rootOpts))
	cmd.AddCommand(newBlockSetCommand(rootOpts))
	return cmd
}

func newBlockShowCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:           "show <block>",
		Short:         "Print the elements of a block, one row per element",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			block, err := lookupBlock(sess, args[0])
			if err != nil {
				return err
			}
			view, err := blockView(cells.NewBlockTable(block), all)
			if err != nil {
				return WrapExitError(ExitFailure, "block show", err)
			}
			return sess.out.Success(blockText(view), view)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include parameter columns the primitives do not use")

	return cmd
}

func newBlockSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <block> <row> <column> <value>",
		Short: "Write one cell of a block table",
		Long: `Write one cell of a block table and store the block. The value is
parsed according to the column type; the store clears the sampling info of
every ensemble playing the block.`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := strconv.Atoi(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "row", err)
			}
			sess, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			block, err := lookupBlock(sess, args[0])
			if err != nil {
				return err
			}
			table := cells.NewBlockTable(block)
			col, ok := table.ColumnIndex(args[2])
			if !ok {
				err := fmt.Errorf("block %s has no column %q", block.Name(), args[2])
				_ = sess.out.Error("unknown_column", err.Error(), nil)
				return WrapExitError(ExitFailure, "block set", err)
			}
			value, err := cells.ParseText(table.Columns()[col].Kind, args[3])
			if err == nil {
				err = table.Set(row, col, value)
			}
			if err == nil {
				err = sess.svc.Store().PutBlock(table.Block())
			}
			if err != nil {
				_ = sess.out.Error("invalid_cell", err.Error(), nil)
				return WrapExitError(ExitFailure, "block set", err)
			}
			sess.logger.Info().Str("block", block.Name()).Int("row", row).Str("column", args[2]).Msg("block cell updated")

			view, err := blockView(table, false)
			if err != nil {
				return WrapExitError(ExitFailure, "block set", err)
			}
			return sess.out.Success(blockText(view), view)
		},
	}
}

func lookupBlock(sess *session, name string) (*pulse.Block, error) {
	block, ok := sess.svc.Store().Block(name)
	if !ok {
		err := fmt.Errorf("block %q: %w", name, store.ErrNotFound)
		_ = sess.out.Error("not_found", err.Error(), nil)
		return nil, WrapExitError(ExitFailure, "block", err)
	}
	return block, nil
}

// blockView reads every cell. Unless all is set, parameter columns that are
// zero in every row are dropped.
func blockView(table *cells.BlockTable, all bool) (BlockView, error) {
	columns := table.Columns()
	rows := make([][]interface{}, table.Rows())
	for r := range rows {
		rows[r] = make([]interface{}, len(columns))
		for c := range columns {
			v, err := table.Get(r, c)
			if err != nil {
				return BlockView{}, err
			}
			rows[r][c] = v
		}
	}
	view := BlockView{Block: table.Block().Name(), Rows: make([][]interface{}, len(rows))}
	var keep []int
	for c, col := range columns {
		if all || col.Kind != cells.KindNumber || !allZero(rows, c) {
			keep = append(keep, c)
			view.Columns = append(view.Columns, col)
		}
	}
	for r, row := range rows {
		view.Rows[r] = make([]interface{}, len(keep))
		for i, c := range keep {
			view.Rows[r][i] = row[c]
		}
	}
	return view, nil
}

func allZero(rows [][]interface{}, col int) bool {
	for _, row := range rows {
		if v, ok := row[col].(float64); !ok || v != 0 {
			return false
		}
	}
	return true
}

func blockText(view BlockView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "block %s\n", view.Block)
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	names := make([]string, 0, len(view.Columns)+1)
	names = append(names, "row")
	for _, col := range view.Columns {
		names = append(names, col.Name)
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for r, row := range view.Rows {
		cellsText := make([]string, 0, len(row)+1)
		cellsText = append(cellsText, strconv.Itoa(r))
		for _, v := range row {
			cellsText = append(cellsText, fmt.Sprint(v))
		}
		fmt.Fprintln(w, strings.Join(cellsText, "\t"))
	}
	_ = w.Flush()
	return b.String()
}
