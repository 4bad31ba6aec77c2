package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/annotated-calllog/internal/model"
)

var showLimit int

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "List annotated call log rows, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "show")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Store.ListRows(ctx, showLimit)
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Annotated call log is empty.")
			return nil
		}

		formatCallLog(cmd.OutOrStdout(), rows)
		return nil
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "max rows to display (0 for all)")
	rootCmd.AddCommand(showCmd)
}

// formatCallLog writes a tabular list of annotated rows to out.
func formatCallLog(out io.Writer, rows []model.AnnotatedRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIME\tTYPE\tDURATION\tNUMBER\tNAME\tLABEL\tFLAGS")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t--------\t------\t----\t-----\t-----")

	for _, r := range rows {
		ts := ""
		if r.Timestamp != nil {
			ts = r.Timestamp.UTC().Format("2006-01-02 15:04")
		}

		callType := ""
		if r.CallType != nil {
			callType = r.CallType.String()
		}

		number := model.Value(r.FormattedNumber)
		if number == "" && r.Number != nil {
			number = r.Number.NormalizedNumber
		}
		if number == "" {
			number = "(private)"
		}

		name := model.Value(r.Name)
		if len(name) > 30 {
			name = name[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			ts,
			callType,
			formatDuration(r.Duration),
			number,
			name,
			model.Value(r.NumberTypeLabel),
			rowFlags(r.RowValues),
		)
	}
	_ = w.Flush()
}

// rowFlags summarizes the boolean columns of a row.
func rowFlags(rv model.RowValues) string {
	var flags []byte
	for _, f := range []struct {
		set  *bool
		code byte
	}{
		{rv.IsRead, 'R'},
		{rv.New, 'N'},
		{rv.IsVoicemailCall, 'V'},
		{rv.IsBusiness, 'B'},
		{rv.IsBlocked, 'X'},
		{rv.IsEmergencyNumber, 'E'},
	} {
		if model.Value(f.set) {
			flags = append(flags, f.code)
		}
	}
	if len(flags) == 0 {
		return "-"
	}
	return string(flags)
}

func formatDuration(d *time.Duration) string {
	if d == nil {
		return ""
	}
	return d.Round(time.Second).String()
}
