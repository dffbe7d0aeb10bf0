package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nasdesk/nasdesk/internal/config"
)

func newLoginCmd() *cobra.Command {
	var (
		saveAs   string
		remember bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check that the NAS accepts your credentials",
		Long: `Log in to the NAS, confirm FileStation access and log out again.

With --save the connection is stored as a profile; add --remember to keep
the password, encrypted with a key bound to this machine and user.`,
		Example: `  nasdesk login --url 192.168.1.10:5000 --user alice --save home --remember
  nasdesk --profile home login`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAppFromFlags()
			if err != nil {
				return err
			}
			defer a.close()
			return a.login(GetContext(), a.credentialSource(), saveAs, remember)
		},
	}

	cmd.Flags().StringVar(&saveAs, "save", "", "Save the connection as a profile with this name")
	cmd.Flags().BoolVar(&remember, "remember", false, "Store the password in the saved profile")
	return cmd
}

// login connects once and optionally saves the details as a profile.
func (a *app) login(ctx context.Context, src credentialSource, saveAs string, remember bool) error {
	ep, err := a.connect(ctx, src)
	if err != nil {
		return err
	}
	creds, _ := a.session.Credentials()
	fmt.Fprintf(a.out, "✓ Logged in to %s as %s\n", ep.BaseURL, creds.Username)

	if saveAs == "" {
		return nil
	}
	if err := a.profiles.Upsert(saveAs, ep.BaseURL, creds.Username, creds.Password, remember); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	if err := a.profiles.SetLastSelected(saveAs); err != nil {
		return err
	}
	if remember {
		fmt.Fprintf(a.out, "✓ Saved profile %q with its password\n", saveAs)
	} else {
		fmt.Fprintf(a.out, "✓ Saved profile %q\n", saveAs)
	}
	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved password of the current profile",
		Long: `Each command ends its own NAS session, so there is nothing to close on the
server. logout removes the stored password of the selected profile (--profile,
or the last one used) and stops selecting it automatically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAppFromFlags()
			if err != nil {
				return err
			}
			defer a.close()
			return a.forget(profileName)
		},
	}
}

// forget drops the stored password of name, or of the last selected profile.
func (a *app) forget(name string) error {
	if name == "" {
		name = a.profiles.LastSelected()
	}
	if name == "" {
		fmt.Fprintln(a.out, "No profile selected; nothing to forget.")
		return nil
	}
	p, ok := a.profiles.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", config.ErrProfileNotFound, name)
	}
	if err := a.profiles.Upsert(p.Name, p.URL, p.Username, "", false); err != nil {
		return err
	}
	if err := a.profiles.SetLastSelected(""); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "✓ Forgot the saved password of profile %q\n", name)
	return nil
}
