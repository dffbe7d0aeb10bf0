package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nasdesk/nasdesk/internal/config"
	encryption "github.com/nasdesk/nasdesk/internal/crypto"
	"github.com/nasdesk/nasdesk/internal/session"
)

// newProfileCmd creates the 'profile' command group.
func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved NAS connection profiles",
		Long: `Manage saved NAS connection profiles.

Profiles live in nas_config.ini next to config.ini. Remembered passwords are
encrypted with a key derived from this machine and user and cannot be read
elsewhere.`,
	}

	cmd.AddCommand(newProfileListCmd())
	cmd.AddCommand(newProfileShowCmd())
	cmd.AddCommand(newProfileAddCmd())
	cmd.AddCommand(newProfileRemoveCmd())
	cmd.AddCommand(newProfileClearCmd())
	cmd.AddCommand(newProfileRememberCmd())
	return cmd
}

// openProfiles loads the profile store named by the config.
func openProfiles() (*config.ProfileStore, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	store := config.NewProfileStore(cfg.ResolvedProfilesPath(), encryption.NewVault(), GetLogger())
	if _, err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func printProfiles(w io.Writer, store *config.ProfileStore) {
	names := store.Names()
	if len(names) == 0 {
		fmt.Fprintln(w, "No saved profiles. Add one with: nasdesk profile add <name> --url <address> --user <name>")
		return
	}
	last := store.LastSelected()
	fmt.Fprintf(w, "  %-16s %-32s %-16s %s\n", "NAME", "URL", "USER", "PASSWORD")
	for _, name := range names {
		p, _ := store.Get(name)
		marker := ""
		if name == last {
			marker = "*"
		}
		pw := "-"
		if p.Remembered() {
			pw = "saved"
		}
		fmt.Fprintf(w, "%1s %-16s %-32s %-16s %s\n", marker, p.Name, p.URL, p.Username, pw)
	}
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved profiles (* marks the last one used)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfiles()
			if err != nil {
				return err
			}
			printProfiles(cmd.OutOrStdout(), store)
			return nil
		},
	}
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfiles()
			if err != nil {
				return err
			}
			return showProfile(cmd.OutOrStdout(), store, args[0])
		},
	}
}

func showProfile(w io.Writer, store *config.ProfileStore, name string) error {
	p, ok := store.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", config.ErrProfileNotFound, name)
	}
	fmt.Fprintf(w, "Profile:  %s\n", p.Name)
	fmt.Fprintf(w, "URL:      %s\n", p.URL)
	fmt.Fprintf(w, "Username: %s\n", p.Username)

	if !p.Remembered() {
		fmt.Fprintln(w, "Password: <not saved>")
		return nil
	}
	// Never print the password itself, only whether this machine can read it
	sel, err := store.Select(name)
	if err != nil {
		return err
	}
	switch {
	case !store.Remember():
		fmt.Fprintln(w, "Password: <saved, unused while remembering is off>")
	case sel.Secret.State == encryption.SecretRecovered:
		fmt.Fprintln(w, "Password: <saved>")
	default:
		fmt.Fprintln(w, "Password: <saved on another machine, will be asked for>")
	}
	return nil
}

func newProfileAddCmd() *cobra.Command {
	var (
		url      string
		user     string
		remember bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or replace a profile",
		Long: `Create or replace a profile.

With --remember the password is read from NASDESK_PASSWORD or asked for, and
stored encrypted. Use 'nasdesk login --save' to verify the details first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfiles()
			if err != nil {
				return err
			}
			normalized, err := session.NormalizeURL(url)
			if err != nil {
				return err
			}

			password := ""
			if remember {
				src := credentialSource{
					URL:      normalized,
					Username: user,
					Getenv:   os.Getenv,
					Prompt:   newTermPrompter(),
				}
				r, err := src.resolve()
				if err != nil {
					return err
				}
				user = r.Credentials.Username
				password = r.Credentials.Password
			}

			if err := store.Upsert(args[0], normalized, user, password, remember); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved profile %q (%s)\n", args[0], store.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "NAS address, e.g. 192.168.1.10:5000")
	cmd.Flags().StringVar(&user, "user", "", "NAS account name")
	cmd.Flags().BoolVar(&remember, "remember", false, "Store the password encrypted")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newProfileRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfiles()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed profile %q\n", args[0])
			return nil
		},
	}
}

func newProfileClearCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every profile and the profile file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfiles()
			if err != nil {
				return err
			}
			if !force && !newTermPrompter().confirm(fmt.Sprintf("Delete all %d profiles?", len(store.Names()))) {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing deleted.")
				return nil
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ All profiles deleted")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask for confirmation")
	return cmd
}

func newProfileRememberCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "remember [on|off]",
		Short:     "Show or change whether saved passwords are used",
		ValidArgs: []string{"on", "off"},
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProfiles()
			if err != nil {
				return err
			}
			value := ""
			if len(args) == 1 {
				value = args[0]
			}
			return setRemember(cmd.OutOrStdout(), store, value)
		},
	}
}

// setRemember applies "on" or "off" to the remember-password setting, or
// reports it when value is empty. Turning it off keeps stored passwords.
func setRemember(w io.Writer, store *config.ProfileStore, value string) error {
	switch value {
	case "":
	case "on", "off":
		if err := store.SetRemember(value == "on"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("expected on or off, got %q", value)
	}
	if store.Remember() {
		fmt.Fprintln(w, "Saved passwords are used to log in")
	} else {
		fmt.Fprintln(w, "Saved passwords are ignored; you will be asked for the password")
	}
	return nil
}
