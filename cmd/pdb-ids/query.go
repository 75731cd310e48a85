package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/pdb-ids/pkg/query"
)

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print or run a single search request",
		Long: `Query prints the request URL and JSON body for one page of the search.
With --execute the request is sent and the raw response body is printed.
With --from-url an existing search URL is decoded instead.`,
		Args: cobra.NoArgs,
		RunE: a.runQuery,
	}

	addClientFlags(cmd)
	cmd.Flags().Int("start", 0, "start offset of the page")
	cmd.Flags().Int("rows", 0, "rows in the page (default: page size)")
	cmd.Flags().Bool("execute", false, "send the request and print the raw response")
	cmd.Flags().String("from-url", "", "decode the json parameter of an existing search URL")
	return cmd
}

func (a *app) runQuery(cmd *cobra.Command, args []string) error {
	fromURL, _ := cmd.Flags().GetString("from-url")
	if fromURL != "" {
		req, err := query.FromURL(fromURL)
		if err != nil {
			return err
		}
		return a.printRequest(req, "")
	}

	req := a.cfg.Client().Base
	start, _ := cmd.Flags().GetInt("start")
	req = req.WithStart(start)
	if rows, _ := cmd.Flags().GetInt("rows"); rows > 0 {
		req = req.WithRows(rows)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	execute, _ := cmd.Flags().GetBool("execute")
	if !execute {
		target, err := req.URL(a.cfg.Endpoint)
		if err != nil {
			return err
		}
		return a.printRequest(req, target)
	}

	cl, cleanup, err := a.newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	body, err := cl.Raw(cmd.Context(), req)
	if err != nil {
		return err
	}
	a.stdout.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Fprintln(a.stdout)
	}
	return nil
}

func (a *app) printRequest(req query.Request, target string) error {
	raw, err := req.Encode()
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return err
	}
	if target != "" {
		fmt.Fprintln(a.stdout, target)
	}
	fmt.Fprintln(a.stdout, pretty.String())
	return nil
}
