package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/resultportal/internal/auth"
)

func newLoginCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as a teacher and print a bearer token for --token.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := readSecret(deps.Stdin)
				if err != nil {
					return err
				}
				password = p
			}
			api, err := flags.api(deps)
			if err != nil {
				return err
			}
			res, err := api.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			t := &table{header: []string{"FIELD", "VALUE"}}
			t.add("teacher", res.Teacher.Name)
			t.add("username", res.Teacher.Username)
			t.add("expires_at", res.ExpiresAt.Format(time.RFC3339))
			t.add("token", res.Token)
			return render(cmd.OutOrStdout(), flags.format(), res, t)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Teacher username. [required]")
	cmd.Flags().StringVar(&password, "password", "", "Password; read from stdin when omitted.")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newHashPasswordCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for admin_password_hash.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := readSecret(deps.Stdin)
				if err != nil {
					return err
				}
				password = p
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			t := &table{}
			t.add(hash)
			return render(cmd.OutOrStdout(), flags.format(), map[string]string{"hash": hash}, t)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password to hash; read from stdin when omitted.")
	return cmd
}

// readSecret reads the first line of r.
func readSecret(r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("no password given and stdin is unavailable")
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
