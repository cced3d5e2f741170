package main

import (
	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/queryfile"
	"github.com/gabisonia/go-esquery/whereexpr"
	"github.com/spf13/cobra"
)

// loadQuery reads the query document and folds in an --expr flag.
func loadQuery(cmd *cobra.Command, args []string, expr string) (queryfile.Query, *whereexpr.Parser, error) {
	var (
		q   queryfile.Query
		err error
	)
	if len(args) > 0 || expr == "" {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		q, err = readQuery(path, cmd.InOrStdin())
		if err != nil {
			return q, nil, err
		}
	}
	if expr != "" {
		if q.Expr != "" {
			q.Expr = "(" + q.Expr + ") && (" + expr + ")"
		} else {
			q.Expr = expr
		}
	}
	parser, err := whereexpr.NewParser()
	if err != nil {
		return q, nil, err
	}
	return q, parser, nil
}

func newCompileCmd() *cobra.Command {
	var expr string
	cmd := &cobra.Command{
		Use:   "compile [query.json]",
		Short: "Print the engine request for a query document without sending it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			q, parser, err := loadQuery(cmd, args, expr)
			if err != nil {
				return err
			}
			target := q.Target(esquery.Target{Index: a.cfg.Elastic.Index, Type: typeFlag})
			b, err := q.Apply(esquery.NewBuilder(target), parser)
			if err != nil {
				return err
			}
			spec, err := b.Spec()
			if err != nil {
				return err
			}
			req, err := esquery.NewCompiler().CompileSelect(spec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"index": req.Index,
				"type":  req.Type,
				"body":  req.Body,
			})
		},
	}
	cmd.Flags().StringVarP(&expr, "expr", "e", "", "CEL where expression, and-joined with the document's")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var expr string
	cmd := &cobra.Command{
		Use:   "search [query.json]",
		Short: "Run a query document and print the normalized result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			q, parser, err := loadQuery(cmd, args, expr)
			if err != nil {
				return err
			}
			if q.Index != "" {
				a.cfg.Elastic.Index = q.Index
			}
			conn, err := a.connect()
			if err != nil {
				return err
			}
			target := q.Target(esquery.Target{Index: conn.Index(), Type: typeFlag})
			table := conn.Table(target.Type, target.KeyName)
			b, err := q.Apply(table.Query(), parser)
			if err != nil {
				return err
			}
			rs, err := table.Get(cmd.Context(), b)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rs)
		},
	}
	cmd.Flags().StringVarP(&expr, "expr", "e", "", "CEL where expression, and-joined with the document's")
	return cmd
}
