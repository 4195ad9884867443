package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/and161185/arena-auth/internal/client/authstate"
	"github.com/and161185/arena-auth/internal/errs"
	"github.com/and161185/arena-auth/internal/validate"
)

// explain renders err with its field reasons, one per line.
func explain(err error) error {
	fields := errs.FieldsOf(err)
	if len(fields) == 0 {
		return err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msg := errs.KindOf(err).Code()
	for _, k := range keys {
		msg += fmt.Sprintf("\n  %s: %s", k, fields[k])
	}
	return errors.New(msg)
}

func registerCmd(g *globals) *cobra.Command {
	var in validate.RegisterInput
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.app(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if in.Password, err = readPassword(cmd, in.Password); err != nil {
				return err
			}
			if err := a.m.Register(cmd.Context(), in); err != nil {
				return explain(err)
			}
			a.printJSON(a.m.State().Session.User)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Email, "email", "e", "", "email address")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", `password, or "-" to read it from stdin`)
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "optional username")
	cmd.Flags().StringVar(&in.DisplayName, "display-name", "", "optional display name")
	cmd.Flags().StringVar(&in.UserType, "type", "", "player or developer (default player)")
	return cmd
}

func loginCmd(g *globals) *cobra.Command {
	var in validate.LoginInput
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.app(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if in.Password, err = readPassword(cmd, in.Password); err != nil {
				return err
			}
			if err := a.m.Login(cmd.Context(), in); err != nil {
				return explain(err)
			}
			a.printJSON(a.m.State().Session.User)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Email, "email", "e", "", "email address")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", `password, or "-" to read it from stdin`)
	return cmd
}

func logoutCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.app(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.m.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "logged out")
			return nil
		},
	}
}

func whoamiCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user, refreshing the session if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.app(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			st := a.m.CheckAuth(cmd.Context())
			if !st.Authenticated() {
				return notSignedIn(st)
			}
			a.printJSON(st.Session.User)
			return nil
		},
	}
}

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.app(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			st := a.m.CheckAuth(cmd.Context())
			out := map[string]any{"status": st.Status.String()}
			if st.Authenticated() {
				out["user"] = st.Session.User.Email
			}
			if st.Err != nil {
				out["error"] = errs.KindOf(st.Err).Code()
			}
			a.printJSON(out)
			return nil
		},
	}
}

func refreshCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the saved token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.app(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if _, err := a.m.RefreshWithRetry(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "session refreshed")
			return nil
		},
	}
}

func notSignedIn(st authstate.State) error {
	if st.Status == authstate.StatusError {
		return fmt.Errorf("cannot reach the server, session kept: %w", st.Err)
	}
	if st.Err != nil {
		return fmt.Errorf("not signed in: %w", st.Err)
	}
	return errors.New("not signed in")
}
