package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/okian/resultportal/internal/client"
)

const (
	envURL         = "PORTAL_URL"
	envToken       = "PORTAL_TOKEN"
	defaultURL     = "http://localhost:9080"
	defaultTimeout = 15 * time.Second
)

type globalFlags struct {
	URL     string
	Token   string
	Format  string
	Timeout time.Duration
}

// NewRootCommand builds the complete command tree.
func NewRootCommand(deps Dependencies) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Upload results, look them up and check attendance against a result portal.",
		Version:       resolvedVersion(deps.Version),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if _, err := parseFormat(flags.Format); err != nil {
				return err
			}
			return nil
		},
	}
	flags.register(root.PersistentFlags())

	root.AddCommand(newLookupCommand(deps, flags))
	root.AddCommand(newUploadCommand(deps, flags))
	root.AddCommand(newResultsCommand(deps, flags))
	root.AddCommand(newCheckCommand(deps, flags))
	root.AddCommand(newMarkCommand(deps, flags))
	root.AddCommand(newStatusCommand(deps, flags))
	root.AddCommand(newLoginCommand(deps, flags))
	root.AddCommand(newMigrateCommand(deps, flags))
	root.AddCommand(newHashPasswordCommand(deps, flags))

	return root
}

func resolvedVersion(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "dev"
	}
	return v
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (f *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.URL, "url", envOr(envURL, defaultURL), "Portal base URL ($"+envURL+").")
	fs.StringVar(&f.Token, "token", os.Getenv(envToken), "Bearer token for teacher routes ($"+envToken+").")
	fs.StringVar(&f.Format, "format", string(formatTable), "Output format: table, json or yaml.")
	fs.DurationVar(&f.Timeout, "timeout", defaultTimeout, "Per-request timeout.")
}

// api builds the portal client from the global flags.
func (f *globalFlags) api(deps Dependencies) (API, error) {
	newAPI := deps.NewAPI
	if newAPI == nil {
		newAPI = DefaultNewAPI
	}
	a, err := newAPI(f.URL, client.WithTimeout(f.Timeout), client.WithToken(f.Token))
	if err != nil {
		return nil, fmt.Errorf("portal client: %w", err)
	}
	return a, nil
}

func (f *globalFlags) format() outputFormat {
	out, _ := parseFormat(f.Format)
	return out
}
