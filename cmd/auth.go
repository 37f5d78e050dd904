package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/meetnotes/credentials"
)

// Auth command flags.
var (
	authValue          string
	authExpiresIn      time.Duration
	authNonInteractive bool
)

// Secret targets for set-key.
const (
	targetLLM      = "llm"
	targetCalendar = "calendar"
)

// AuthCmd represents the auth command group.
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider keys and calendar tokens",
	Long: `Manage the secrets meetnotes uses when a request does not bring its own.

Two secrets can be stored:
  - llm:      the speech-to-text and language model provider key
  - calendar: a calendar OAuth access token

Secrets are stored encrypted in ~/.meetnotes/credentials.yaml. The encryption
key comes from MEETNOTES_ENCRYPTION_KEY, a key derived from
MEETNOTES_PASSPHRASE, or the system keyring.

Environment variables take precedence over stored secrets:
  llm:      MEETNOTES_LLM_API_KEY, LLM_API_KEY, OPENAI_API_KEY
  calendar: MEETNOTES_CALENDAR_TOKEN`,
}

var authSetKeyCmd = &cobra.Command{
	Use:   "set-key <llm|calendar>",
	Short: "Store a provider key or calendar token",
	Long: `Store a provider key or calendar token.

The value is read from --value, or prompted for with hidden input.

Examples:
  # Prompt for the provider key
  meetnotes auth set-key llm

  # Store a calendar token that expires in one hour
  meetnotes auth set-key calendar --value ya29.a0Af... --expires-in 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runSetKey,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which secrets are configured",
	Long: `Show which secrets are configured and where each one comes from.
Values are masked.

Examples:
  meetnotes auth status`,
	RunE: runAuthStatus,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored secrets",
	Long: `Remove every stored secret from the local credential store.
Environment variables are not affected.

Examples:
  meetnotes auth logout`,
	RunE: runLogout,
}

func init() {
	authSetKeyCmd.Flags().StringVar(&authValue, "value", "", "Secret value (prompted for when empty)")
	authSetKeyCmd.Flags().DurationVar(&authExpiresIn, "expires-in", 0, "Calendar token lifetime, e.g. 55m")
	authSetKeyCmd.Flags().BoolVar(&authNonInteractive, "non-interactive", false, "Fail instead of prompting for input")

	AuthCmd.AddCommand(authSetKeyCmd)
	AuthCmd.AddCommand(authStatusCmd)
	AuthCmd.AddCommand(authLogoutCmd)
}

// runSetKey handles the set-key command.
func runSetKey(cmd *cobra.Command, args []string) error {
	target := strings.ToLower(args[0])
	if target != targetLLM && target != targetCalendar {
		return fmt.Errorf("unknown secret %q: use llm or calendar", args[0])
	}
	if authExpiresIn != 0 && target != targetCalendar {
		return fmt.Errorf("--expires-in only applies to calendar tokens")
	}

	value := strings.TrimSpace(authValue)
	if value == "" {
		if authNonInteractive {
			return fmt.Errorf("no value provided and --non-interactive flag set")
		}
		var err error
		value, err = promptSecret(cmd.InOrStdin(), cmd.OutOrStdout(), secretLabel(target)+": ")
		if err != nil {
			return fmt.Errorf("reading %s: %w", secretLabel(target), err)
		}
	}
	if err := validateSecret(target, value); err != nil {
		return err
	}

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	err = store.Update(func(c *credentials.Credentials) {
		switch target {
		case targetLLM:
			c.LLMAPIKey = value
		case targetCalendar:
			c.CalendarToken = value
			c.CalendarTokenExpiresAt = time.Time{}
			if authExpiresIn > 0 {
				c.CalendarTokenExpiresAt = time.Now().Add(authExpiresIn).UTC()
			}
		}
	})
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Stored %s.\n", secretLabel(target))
	if target == targetLLM {
		fmt.Fprintf(out, "  Key: %s (id %s)\n", credentials.MaskAPIKey(value), credentials.KeyID(value))
	} else {
		fmt.Fprintf(out, "  Token: %s\n", credentials.MaskToken(value))
		if authExpiresIn > 0 {
			fmt.Fprintf(out, "  Expires in: %s\n", credentials.FormatExpiry(time.Now().Add(authExpiresIn)))
		}
	}
	if name := activeEnv(envNames(target)); name != "" {
		fmt.Fprintf(out, "\nNote: %s is set and takes precedence over the stored value.\n", name)
	}
	return nil
}

func secretLabel(target string) string {
	if target == targetCalendar {
		return "calendar token"
	}
	return "provider key"
}

func envNames(target string) []string {
	if target == targetCalendar {
		return credentials.CalendarTokenEnvVars
	}
	return credentials.LLMKeyEnvVars
}

// activeEnv returns the first non-empty variable in names.
func activeEnv(names []string) string {
	for _, name := range names {
		if strings.TrimSpace(os.Getenv(name)) != "" {
			return name
		}
	}
	return ""
}

// promptSecret reads a line with echo disabled when stdin is a terminal.
func promptSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	if f, ok := in.(*os.File); ok && f == os.Stdin && term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// validateSecret performs basic validation on a secret.
func validateSecret(target, value string) error {
	if value == "" {
		return fmt.Errorf("%s is empty", secretLabel(target))
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return fmt.Errorf("%s must not contain whitespace", secretLabel(target))
	}
	if target == targetLLM && len(value) < 8 {
		return fmt.Errorf("provider key is too short")
	}
	return nil
}

// runLogout handles the logout command.
func runLogout(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	out := cmd.OutOrStdout()
	if !store.Exists() {
		fmt.Fprintln(out, "No stored credentials found.")
		return nil
	}

	if err := store.Delete(); err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}
	fmt.Fprintln(out, "Stored credentials have been removed.")

	for _, target := range []string{targetLLM, targetCalendar} {
		if name := activeEnv(envNames(target)); name != "" {
			fmt.Fprintf(out, "\nNote: %s environment variable is still set.\n", name)
			fmt.Fprintf(out, "Unset it with: unset %s\n", name)
		}
	}
	return nil
}

// runAuthStatus handles the status command.
func runAuthStatus(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Credential Status")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Encryption key: %s\n\n", store.KeyDescription())

	creds, err := store.Load()
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
		creds = nil
	case err != nil:
		return fmt.Errorf("loading credentials: %w", err)
	}

	key, source, err := store.ResolveLLMKey()
	if err != nil {
		return fmt.Errorf("resolving provider key: %w", err)
	}
	fmt.Fprintln(out, "Provider key:")
	writeSecretStatus(out, key, source, activeEnv(credentials.LLMKeyEnvVars), credentials.MaskAPIKey)

	tok, source, err := store.ResolveCalendarToken()
	fmt.Fprintln(out, "Calendar token:")
	switch {
	case errors.Is(err, credentials.ErrExpiredToken):
		fmt.Fprintln(out, "  Status: expired")
	case err != nil:
		return fmt.Errorf("resolving calendar token: %w", err)
	default:
		writeSecretStatus(out, tok, source, activeEnv(credentials.CalendarTokenEnvVars), credentials.MaskToken)
		if source == credentials.SourceStored && creds != nil {
			fmt.Fprintf(out, "  Expires: %s\n", credentials.FormatExpiry(creds.CalendarTokenExpiresAt))
		}
	}

	if creds != nil {
		fmt.Fprintf(out, "\nLast updated: %s\n", creds.LastUpdated.Format(time.RFC3339))
	} else if key == "" && tok == "" {
		fmt.Fprintln(out, "\nNothing configured. Run 'meetnotes auth set-key llm' to store a provider key.")
	}
	return nil
}

func writeSecretStatus(out io.Writer, value string, source credentials.Source, envName string, mask func(string) string) {
	switch source {
	case credentials.SourceEnv:
		fmt.Fprintf(out, "  Source: environment (%s)\n", envName)
	case credentials.SourceStored:
		fmt.Fprintln(out, "  Source: stored")
	default:
		fmt.Fprintln(out, "  Source: (not set)")
		return
	}
	fmt.Fprintf(out, "  Value:  %s\n", mask(value))
}
