package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var proposalColumns = []column{
	{Header: "Proposal", Path: "proposalId"},
	{Header: "Plot", Path: "plotId"},
	{Header: "Kind", Path: "kind"},
	{Header: "From", Path: "currentState"},
	{Header: "To", Path: "proposedState"},
	{Header: "Expires", Path: "expiresAt"},
	{Header: "Consequences", Path: "consequences"},
	{Header: "Message", Path: "message"},
}

var confirmColumns = []column{
	{Header: "Plot", Path: "plot.id"},
	{Header: "State", Path: "plot.state"},
	{Header: "Version", Path: "plot.version"},
	{Header: "Harvest", Path: "harvest.id"},
	{Header: "Actual yield", Path: "harvest.actualYield"},
	{Header: "Yield unit", Path: "harvest.yieldUnit"},
	{Header: "Difference %", Path: "harvest.percentDifference"},
	{Header: "Soil", Path: "harvest.soilCondition"},
}

func plotPath(id, rest string) string {
	return "/plots/" + url.PathEscape(id) + rest
}

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Propose, confirm and cancel plot state transitions",
	}

	var reason string
	propose := &cobra.Command{
		Use:   "propose PLOT TARGET_STATE",
		Short: "Propose a transition; nothing changes until it is confirmed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := proposeTransition(args[0], args[1], reason)
			if err != nil {
				return err
			}
			return printObject(view, proposalColumns)
		},
	}
	propose.Flags().StringVar(&reason, "reason", "", "Reason recorded with the transition")

	confirm := &cobra.Command{
		Use:   "confirm PLOT PROPOSAL_ID",
		Short: "Apply a pending proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := confirmProposal(args[0], args[1])
			if err != nil {
				return err
			}
			return printObject(res, confirmColumns)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel PLOT [PROPOSAL_ID]",
		Short: "Drop the pending proposal of a plot",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if len(args) == 2 {
				body["proposalId"] = args[1]
			}
			if err := newClient().post(plotPath(args[0], "/state/cancel"), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proposal for plot %s cancelled\n", args[0])
			return nil
		},
	}

	pending := &cobra.Command{
		Use:   "pending PLOT",
		Short: "Show the pending proposal of a plot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Proposal map[string]any `json:"proposal"`
			}
			if err := newClient().get(plotPath(args[0], "/state/proposal"), &resp); err != nil {
				return err
			}
			if resp.Proposal == nil {
				if structured() {
					return printOutput(resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "no pending proposal")
				return nil
			}
			return printObject(resp.Proposal, proposalColumns)
		},
	}

	var yes bool
	move := &cobra.Command{
		Use:   "move PLOT TARGET_STATE",
		Short: "Propose a transition and confirm it after review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := proposeTransition(args[0], args[1], reason)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), extractValue(view, "message"))
			if c := extractValue(view, "consequences"); c != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "consequences:", c)
			}
			id := extractValue(view, "proposalId")
			if !yes && !askConfirm(cmd.InOrStdin(), cmd.OutOrStdout()) {
				if err := newClient().post(plotPath(args[0], "/state/cancel"), map[string]string{"proposalId": id}, nil); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
				return nil
			}
			res, err := confirmProposal(args[0], id)
			if err != nil {
				return err
			}
			return printObject(res, confirmColumns)
		},
	}
	move.Flags().StringVar(&reason, "reason", "", "Reason recorded with the transition")
	move.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm without prompting")

	var pageSize int
	var pageToken string
	transitions := &cobra.Command{
		Use:   "history PLOT",
		Short: "Show the transition audit trail of a plot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("pageSize", fmt.Sprint(pageSize))
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}
			var resp map[string]any
			if err := newClient().get(plotPath(args[0], "/transitions?"+q.Encode()), &resp); err != nil {
				return err
			}
			if structured() {
				return printOutput(resp)
			}
			if err := printItems(itemsOf(resp), []column{
				{Header: "Time", Path: "createdAt"},
				{Header: "Event", Path: "eventType"},
				{Header: "Actor", Path: "actor"},
				{Header: "From", Path: "from"},
				{Header: "To", Path: "to"},
				{Header: "Reason", Path: "reason", Width: 40},
			}); err != nil {
				return err
			}
			if next := extractValue(resp, "nextPageToken"); next != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nnext page: --page-token %s\n", next)
			}
			return nil
		},
	}
	transitions.Flags().IntVar(&pageSize, "page-size", 20, "Events per page")
	transitions.Flags().StringVar(&pageToken, "page-token", "", "Page token from a previous call")

	cmd.AddCommand(propose, confirm, cancel, pending, move, transitions)
	return cmd
}

func proposeTransition(plotID, target, reason string) (map[string]any, error) {
	var view map[string]any
	err := newClient().post(plotPath(plotID, "/state/propose"), map[string]string{
		"targetState": strings.ToUpper(target),
		"reason":      reason,
	}, &view)
	return view, err
}

func confirmProposal(plotID, proposalID string) (map[string]any, error) {
	var res map[string]any
	err := newClient().post(plotPath(plotID, "/state/confirm"), map[string]string{"proposalId": proposalID}, &res)
	return res, err
}

func askConfirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "confirm? [y/N] ")
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "s", "si", "sí":
		return true
	}
	return false
}
