package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dhcgn/inbox-triage/credential"
)

func newCredentialsCmd(app *App) *cobra.Command {
	var fileDir string

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the IMAP password stored in the system keyring",
	}
	cmd.PersistentFlags().StringVar(&fileDir, "keyring-dir", "", "Directory for the encrypted file keyring fallback")

	account := func() (string, error) {
		if app.Config.IMAPHost == "" || app.Config.IMAPUser == "" {
			return "", fmt.Errorf("--imap-host and --imap-user are required")
		}
		return credential.IMAPKey(app.Config.IMAPUser, app.Config.IMAPHost), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set",
		Short: "Store the IMAP password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := account()
			if err != nil {
				return err
			}
			password, err := readPassword(fmt.Sprintf("Password for %s@%s: ", app.Config.IMAPUser, app.Config.IMAPHost))
			if err != nil {
				return err
			}
			store, err := credential.Open(fileDir)
			if err != nil {
				return err
			}
			if err := store.Set(key, password); err != nil {
				return err
			}
			pterm.Success.Printf("Stored password for %s\n", key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored IMAP password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := account()
			if err != nil {
				return err
			}
			store, err := credential.Open(fileDir)
			if err != nil {
				return err
			}
			if err := store.Delete(key); err != nil {
				return err
			}
			pterm.Success.Printf("Deleted password for %s\n", key)
			return nil
		},
	})

	return cmd
}

// readPassword prompts without echo on a terminal and reads one line from
// stdin otherwise.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
