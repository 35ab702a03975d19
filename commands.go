package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/auth"
)

func newPlanCmd() *cobra.Command {
	var (
		userID string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "plan <query>",
		Short: "Build an orchestration plan for a query and print it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, logger, _, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			parameters, err := parseParams(params)
			if err != nil {
				return err
			}

			client := newLLMClient(cfg, logger)
			registry, err := newRegistry(cfg, client, nil, logger)
			if err != nil {
				return err
			}
			plan, err := newPlanner(cfg, client, registry, logger).CreatePlan(cmd.Context(), agents.Request{
				Query:      strings.Join(args, " "),
				UserID:     userID,
				Context:    map[string]any{},
				Parameters: parameters,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, plan)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id attached to the request")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "request parameter as key=value (repeatable)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with auth.secret_key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, logger, _, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if !cfg.Auth.Enabled() {
				return fmt.Errorf("auth.secret_key (or SECRET_KEY) must be set to mint tokens")
			}
			tok, err := auth.NewJWTManager(cfg.Auth.SecretKey, cfg.Auth.AccessTokenExpire).GenerateToken(userID, scopes...)
			if err != nil {
				return err
			}
			return printJSON(cmd, tok)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scopes to grant (default: all)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// parseParams turns key=value pairs into request parameters. Values that
// parse as JSON keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[key] = decoded
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
