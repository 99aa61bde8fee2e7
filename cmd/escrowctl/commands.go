package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	api   string
	token string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "escrowctl",
		Short:         "Operator CLI for the escrow and funding service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.api, "api", envOr("ESCROWCTL_API", "http://localhost:8080"), "service base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ESCROWCTL_TOKEN"), "bearer token")

	client := func() *apiClient { return newAPIClient(opts.api, opts.token) }

	root.AddCommand(
		loginCmd(client),
		getCmd("contribution <id>", "Show a contribution", "/contributions/%d", client),
		getCmd("summary <campaign-id>", "Show a campaign's escrow summary", "/campaigns/%d/escrow-summary", client),
		getCmd("funding <campaign-id>", "Show a campaign's unified funding", "/campaigns/%d/funding", client),
		getCmd("contributions <campaign-id>", "List a campaign's contributions", "/campaigns/%d/contributions", client),
		getCmd("transfer <id>", "Show a native ledger transfer", "/transfers/%d", client),
		postCmd("release <id>", "Release a held contribution", "/contributions/%d/release", client),
		postCmd("refund <id>", "Refund a contribution", "/contributions/%d/refund", client),
		postCmd("poll <id>", "Poll a contribution's rail once", "/contributions/%d/poll", client),
		postCmd("reconcile <campaign-id>", "Refold a campaign's escrow summary", "/campaigns/%d/reconcile", client),
		confirmCmd(client),
		settleCmd(client),
		campaignCmd(client),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// printJSON pretty-prints a JSON body, falling back to the raw bytes.
func printJSON(w io.Writer, data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintln(w, buf.String())
}

// emit prints whatever body came back and passes err through.
func emit(cmd *cobra.Command, data []byte, err error) error {
	if len(data) > 0 {
		printJSON(cmd.OutOrStdout(), data)
	}
	return err
}

func getCmd(use, short, path string, client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			data, _, err := client().do(cmd.Context(), http.MethodGet, fmt.Sprintf(path, id), nil)
			return emit(cmd, data, err)
		},
	}
}

func postCmd(use, short, path string, client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			data, _, err := client().do(cmd.Context(), http.MethodPost, fmt.Sprintf(path, id), nil)
			return emit(cmd, data, err)
		},
	}
}

func loginCmd(client func() *apiClient) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _, err := client().do(cmd.Context(), http.MethodPost, "/auth/login",
				map[string]string{"email": email, "password": password})
			if err != nil {
				return err
			}
			var resp struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("decode login response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("ESCROWCTL_PASSWORD"), "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func confirmCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <id> <amount>",
		Short: "Confirm a contribution as a rail adapter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			data, _, err := client().do(cmd.Context(), http.MethodPost,
				fmt.Sprintf("/contributions/%d/confirm", id), map[string]uint64{"amount": amount})
			return emit(cmd, data, err)
		},
	}
}

func settleCmd(client func() *apiClient) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "settle <campaign-id>",
		Short: "Settle a resolved campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/campaigns/%d/settle", id)
			if async {
				path += "?async=true"
			}
			data, status, err := client().do(cmd.Context(), http.MethodPost, path, nil)
			var apiErr *apiError
			if status == http.StatusMultiStatus && errors.As(err, &apiErr) {
				printJSON(cmd.OutOrStdout(), data)
				return errors.New("settlement partially failed; run again to retry the remaining contributions")
			}
			return emit(cmd, data, err)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "enqueue a background settlement job")
	return cmd
}

func campaignCmd(client func() *apiClient) *cobra.Command {
	var (
		goal       uint64
		resolution string
		creator    string
	)
	cmd := &cobra.Command{
		Use:   "campaign <id>",
		Short: "Sync a campaign's goal and resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{"goal": goal, "resolution": resolution}
			if creator != "" {
				body["creator"] = creator
			}
			data, _, err := client().do(cmd.Context(), http.MethodPut, fmt.Sprintf("/campaigns/%d", id), body)
			return emit(cmd, data, err)
		},
	}
	cmd.Flags().Uint64Var(&goal, "goal", 0, "funding goal in the traditional rail's smallest unit")
	cmd.Flags().StringVar(&resolution, "resolution", "open", "open, succeeded or failed")
	cmd.Flags().StringVar(&creator, "creator", "", "creator user id")
	return cmd
}
