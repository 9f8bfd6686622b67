package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stemsi/kontrol-backend/internal/console"
	"github.com/stemsi/kontrol-backend/internal/console/export"
	"github.com/stemsi/kontrol-backend/internal/i18n"
	"github.com/stemsi/kontrol-backend/internal/model"
)

func addFilterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("subject", "", "Subject id")
	f.String("variant", "", "Variant id, any spelling with digits (\"1\", \"Вариант 1\")")
	f.String("cls", "", "Class")
	f.String("query", "", "Local text filter over fio, class and variant")
	f.Int("limit", 0, "Maximum records to fetch (0 = service default)")
}

func (e *env) refresh(ctx context.Context) ([]model.ListItem, error) {
	return e.agg.Refresh(ctx, model.ListFilter{
		Subject: e.v.GetString("subject"),
		Variant: e.v.GetString("variant"),
		Class:   e.v.GetString("cls"),
		Limit:   e.v.GetInt("limit"),
		Query:   e.v.GetString("query"),
	})
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submitted records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			items, err := e.refresh(cmd.Context())
			if err != nil {
				return err
			}
			if e.v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			writeTable(cmd.OutOrStdout(), items)
			fmt.Fprintln(cmd.ErrOrStderr(), i18n.Tp(cmd.Context(), "ListLoaded", len(e.agg.Items())))
			return nil
		},
	}
	addFilterFlags(cmd)
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the stored payload of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			raw, err := e.agg.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, raw, "", "  "); err != nil {
				return err
			}
			out.WriteByte('\n')
			_, err = out.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
}

func autocheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autocheck KEY...",
		Short: "Regrade records against an answer key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			uploaded, err := readKeyFile(e.v.GetString("key-file"))
			if err != nil {
				return err
			}
			results := e.agg.AutocheckMany(cmd.Context(), args, uploaded)
			if e.v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tFIO\tCLS\tOK\tPERCENT\tMARK\tSOURCE")
			checked := 0
			for _, r := range results {
				if r.Verdict == nil {
					fmt.Fprintf(tw, "%s\t%s\n", r.Key, r.Error)
					continue
				}
				checked++
				v := r.Verdict
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
					v.Key, v.FIO, v.Class, v.OK, v.Total, v.Percent, v.Mark, v.KeySource)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), i18n.Tp(cmd.Context(), "AutocheckDone", checked))
			return nil
		},
	}
	cmd.Flags().String("key-file", "", "Answer key JSON file")
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func voidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "void KEY...",
		Short: "Annul records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			if _, err := e.agg.Void(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.Tp(cmd.Context(), "VoidDone", len(args)))
			return nil
		},
	}
}

func resetCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-code",
		Short: "Mint a one-time reset code for a student's attempt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			code, err := e.agg.RequestReset(cmd.Context(), model.ResetScope{
				Subject: e.v.GetString("subject"),
				Variant: e.v.GetString("variant"),
				Class:   e.v.GetString("cls"),
				FIO:     e.v.GetString("fio"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.Td(cmd.Context(), "ResetCodeIssued", map[string]any{"Code": code.Code}))
			return nil
		},
	}
	f := cmd.Flags()
	f.String("subject", "", "Subject id")
	f.String("variant", "", "Variant id")
	f.String("cls", "", "Class")
	f.String("fio", "", "Student full name")
	return cmd
}

func timerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Read or set the instructor time limit",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the time limit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			cfg, err := e.agg.TimerGet(cmd.Context(), e.v.GetString("subject"), e.v.GetString("variant"))
			if err != nil {
				return err
			}
			if cfg.TimeLimitMinutes <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T(cmd.Context(), "NoTimeLimit"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.Td(cmd.Context(), "TimerLoaded", map[string]any{
				"Minutes": strconv.FormatFloat(cfg.TimeLimitMinutes, 'f', -1, 64),
			}))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store the time limit; 0 clears it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			minutes := e.v.GetFloat64("minutes")
			if minutes < 0 {
				return fmt.Errorf("minutes must not be negative")
			}
			err = e.agg.TimerSet(cmd.Context(), model.TimerConfig{
				Subject:          e.v.GetString("subject"),
				Variant:          e.v.GetString("variant"),
				TimeLimitMinutes: minutes,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T(cmd.Context(), "TimerSaved"))
			return nil
		},
	}
	set.Flags().Float64("minutes", 0, "Time limit in minutes")

	for _, c := range []*cobra.Command{get, set} {
		c.Flags().String("subject", "", "Subject id")
		c.Flags().String("variant", "", "Variant id (empty = whole subject)")
		_ = c.MarkFlagRequired("subject")
	}
	cmd.AddCommand(get, set)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "export csv|xlsx|pdf|html",
		Short:     "Export the list or the autocheck report",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"csv", "xlsx", "pdf", "html"},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			items, err := e.refresh(ctx)
			if err != nil {
				return err
			}

			format := args[0]
			var verdicts []console.Verdict
			if e.v.GetBool("report") || format == "pdf" || format == "html" {
				uploaded, err := readKeyFile(e.v.GetString("key-file"))
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(items))
				for _, it := range items {
					keys = append(keys, it.Key)
				}
				e.agg.AutocheckMany(ctx, keys, uploaded)
				verdicts = e.agg.Verdicts()
			}

			var buf bytes.Buffer
			switch format {
			case "csv":
				if e.v.GetBool("report") {
					err = export.WriteReportCSV(&buf, verdicts)
				} else {
					err = export.WriteCSV(&buf, items)
				}
			case "xlsx":
				err = export.WriteXLSX(ctx, &buf, items, verdicts)
			case "pdf":
				err = export.WritePDF(ctx, &buf, verdicts, export.PDFOptions{FontPath: e.v.GetString("font")})
			case "html":
				err = export.WriteHTML(ctx, &buf, verdicts, "", e.v.GetString("lang"))
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), e.v.GetString("output"), buf.Bytes())
		},
	}
	addFilterFlags(cmd)
	f := cmd.Flags()
	f.Bool("report", false, "CSV: export the autocheck report instead of the list")
	f.String("key-file", "", "Answer key JSON file for the report")
	f.String("font", "", "UTF-8 TTF font for PDF output")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func readKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return data, nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, items []model.ListItem) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tFIO\tCLS\tVARIANT\tPERCENT\tMARK\tCREATED\tVOID")
	for _, it := range items {
		percent := ""
		if it.Percent != nil {
			percent = strconv.FormatFloat(*it.Percent, 'f', -1, 64)
		}
		void := ""
		if it.Voided {
			void = "x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.Key, strings.TrimSpace(it.FIO), it.Class, it.Variant, percent, it.Mark, it.CreatedAt, void)
	}
	_ = tw.Flush()
}
