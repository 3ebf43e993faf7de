package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"xscraper/pkg/auth"
	"xscraper/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage identity secrets",
	Long: `Manage the secrets of the login identities listed in the configuration.

Secrets are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation (XSCRAPER_PASSPHRASE)
  - Environment variables, XSCRAPER_SECRET_<HANDLE> (read only)

Never share your credentials or config files!`,
}

var loginCmd = &cobra.Command{
	Use:   "login [handle]",
	Short: "Store the secret for an identity",
	Example: `  # Interactive login
  xscraper auth login

  # Store the secret for a known handle
  xscraper auth login data_bot`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <handle>",
	Short: "Remove the stored secret for an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored identities",
	Long:  `List stored identities with masked secrets, and the configured identities that still lack one.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var handle string
	if len(args) > 0 {
		handle = args[0]
	} else {
		fmt.Fprint(ui.Out, "Handle: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read handle: %w", err)
		}
		handle = input
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return errors.New("handle is required")
	}

	if existing, _ := manager.Retrieve(handle); existing != nil {
		fmt.Fprintf(ui.Out, "A secret for '%s' is already stored. Replace it? (y/N): ", handle)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Fprint(ui.Out, "Secret (hidden): ")
	secret, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == "" {
		return errors.New("secret is required")
	}

	if err := manager.Store(&auth.Credential{Handle: handle, Secret: secret}); err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Secret stored for %s (%s)", handle, auth.Mask(secret)))
	fmt.Fprintln(ui.Out, "\nAdd the identity to your configuration if it is not there yet:")
	fmt.Fprintf(ui.Out, "  identities:\n    - handle: %q\n", handle)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	handle := strings.TrimSpace(args[0])
	if err := manager.Delete(handle); err != nil {
		return err
	}
	ui.PrintSuccess("Secret removed: " + handle)
	if _, err := manager.Retrieve(handle); err == nil {
		ui.PrintWarning(fmt.Sprintf("%s is still set in the environment as %s", handle, auth.EnvVar(handle)))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	creds, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	if len(creds) == 0 {
		ui.PrintInfo("No stored identities", "use 'xscraper auth login' to add one")
	} else {
		ui.PrintHighlight("Stored Identities")
		w := tabwriter.NewWriter(ui.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HANDLE\tSECRET\tLAST MODIFIED")
		for _, c := range creds {
			modified := "-"
			if !c.LastModified.IsZero() {
				modified = c.LastModified.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Handle, auth.Mask(c.Secret), modified)
		}
		w.Flush()
	}

	// configured identities that nothing can resolve
	cfg, err := loadUnvalidated()
	if err != nil {
		return nil
	}
	if missing := manager.Resolve(cfg.Identities); len(missing) > 0 {
		fmt.Fprintln(ui.Out)
		ui.PrintWarning("Configured identities without a secret")
		for _, handle := range missing {
			fmt.Fprintf(ui.Out, "  - %s\n", handle)
		}
	}
	return nil
}

// readPassword reads a secret from stdin without echoing when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(ui.Out)
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
