package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/davidahmann/antibody/internal/api"
	"github.com/davidahmann/antibody/internal/app"
	"github.com/davidahmann/antibody/internal/classifier"
	"github.com/davidahmann/antibody/internal/config"
	"github.com/davidahmann/antibody/internal/decision"
	"github.com/davidahmann/antibody/internal/logging"
	"github.com/davidahmann/antibody/pkg/types"
)

const defaultAddr = "http://localhost:8080"

// errDenied makes the process exit non-zero without printing usage.
var errDenied = errors.New("denied")

func main() {
	_ = godotenv.Load()
	exitFn(run(os.Args[1:], os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, http.DefaultClient)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, errDenied) {
			return 1
		}
		fmt.Fprintln(stderr, "antibody:", err)
		return 2
	}
	return 0
}

type remoteFlags struct {
	addr  string
	token string
}

func (f *remoteFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", envOrDefault("ANTIBODY_ADDR", defaultAddr), "antibody gateway address")
	cmd.Flags().StringVar(&f.token, "token", envOrDefault("ANTIBODY_TOKEN", os.Getenv("ANTIBODY_DEV_TOKEN")), "bearer token")
}

func newRootCmd(stdout io.Writer, client *http.Client) *cobra.Command {
	root := &cobra.Command{
		Use:           "antibody",
		Short:         "Risk-gate agent actions and inspect the shared threat registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newProcessCmd(stdout),
		newThreatsCmd(stdout, client),
		newStatsCmd(stdout, client),
		newRulesCmd(stdout),
		newVerifyCmd(stdout, client),
	)
	return root
}

func newProcessCmd(stdout io.Writer) *cobra.Command {
	var (
		configPath string
		target     string
		rawContext string
		demo       bool
		text       bool
	)
	cmd := &cobra.Command{
		Use:   "process <action>",
		Short: "Run one action through the local pipeline",
		Long: `Runs the action through the pipeline using the configured stores and
prints the verdict as JSON. Exits 1 when the action is not allowed.

Examples:
  antibody process "browse to https://docs.example.com"
  antibody process --demo --target 0xABC "send 50 SUI to 0xABC"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(firstNonEmpty(configPath, os.Getenv("ANTIBODY_CONFIG_PATH")))
			if err != nil {
				return err
			}
			if demo {
				cfg.Mode = decision.ModeDemo
			}
			actionCtx, err := api.ParseContext(json.RawMessage(rawContext))
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{Level: firstNonEmpty(os.Getenv("ANTIBODY_LOG_LEVEL"), "error")})
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.Pipeline.Process(cmd.Context(), types.Action{Text: args[0], Target: target, Context: actionCtx})
			if text {
				fmt.Fprintln(stdout, decision.Format(result))
			} else if err := printJSON(stdout, result); err != nil {
				return err
			}
			if !result.Allowed {
				return errDenied
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to antibody config file")
	cmd.Flags().StringVar(&target, "target", "", "target of the action")
	cmd.Flags().StringVar(&rawContext, "context", "", "JSON object with extra context")
	cmd.Flags().BoolVar(&demo, "demo", false, "block high-risk actions instead of asking for confirmation")
	cmd.Flags().BoolVar(&text, "text", false, "print a human-readable summary instead of JSON")
	return cmd
}

func newThreatsCmd(stdout io.Writer, client *http.Client) *cobra.Command {
	var (
		remote remoteFlags
		query  string
	)
	cmd := &cobra.Command{
		Use:   "threats",
		Short: "List shared threats, optionally matching an action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint := remote.addr + "/v1/threats"
			if query != "" {
				endpoint += "?q=" + url.QueryEscape(query)
			}
			return getAndPrint(cmd.Context(), client, endpoint, remote.token, stdout)
		},
	}
	remote.bind(cmd)
	cmd.Flags().StringVar(&query, "query", "", "action text to match against the registry")
	return cmd
}

func newStatsCmd(stdout io.Writer, client *http.Client) *cobra.Command {
	var remote remoteFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show gateway statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getAndPrint(cmd.Context(), client, remote.addr+"/v1/stats", remote.token, stdout)
		},
	}
	remote.bind(cmd)
	return cmd
}

func newRulesCmd(stdout io.Writer) *cobra.Command {
	rules := &cobra.Command{Use: "rules", Short: "Work with classifier rule packs"}
	rules.AddCommand(&cobra.Command{
		Use:   "lint <path>",
		Short: "Validate a rule pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			loaded, err := classifier.LoadRules(args[0])
			if err != nil {
				return err
			}
			if _, err := classifier.New(loaded); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "ok version=%s rules=%d rules_hash=%s\n", loaded.Pack.Version, len(loaded.Pack.Rules), loaded.Hash)
			return nil
		},
	})
	return rules
}

func newVerifyCmd(stdout io.Writer, client *http.Client) *cobra.Command {
	var (
		remote  remoteFlags
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "verify <ref>",
		Short: "Verify a ledger entry by content or anchor ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, status, err := httpGet(cmd.Context(), client, remote.addr+"/v1/ledger/"+url.PathEscape(args[0]), remote.token)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("verify failed: %s", strings.TrimSpace(string(body)))
			}
			if jsonOut {
				_, err := stdout.Write(pretty.Pretty(body))
				return err
			}

			var payload struct {
				ContentRef string `json:"content_ref"`
				AnchorRef  string `json:"anchor_ref"`
				Valid      bool   `json:"valid"`
				Error      string `json:"error,omitempty"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			if payload.Valid {
				fmt.Fprintf(stdout, "valid=true content_ref=%s anchor_ref=%s\n", payload.ContentRef, payload.AnchorRef)
				return nil
			}
			fmt.Fprintf(stdout, "valid=false content_ref=%s error=%s\n", payload.ContentRef, payload.Error)
			return errDenied
		},
	}
	remote.bind(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw JSON response")
	return cmd
}

func getAndPrint(ctx context.Context, client *http.Client, endpoint, token string, stdout io.Writer) error {
	body, status, err := httpGet(ctx, client, endpoint, token)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("request failed (%d): %s", status, strings.TrimSpace(string(body)))
	}
	_, err = stdout.Write(pretty.Pretty(body))
	return err
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(data))
	return err
}

func httpGet(ctx context.Context, client *http.Client, endpoint, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
