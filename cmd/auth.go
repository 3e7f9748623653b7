package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/skimmr/cli/pkg/auth"
	"github.com/skimmr/cli/pkg/util"
)

// SessionService defines the subset of the session manager that the auth
// commands use.
type SessionService interface {
	Login(ctx context.Context, password string) (string, error)
	Logout(ctx context.Context) bool
	LoadPersistedSession(ctx context.Context) auth.State
	CheckAuthWithServer(ctx context.Context) bool
	ResetAuthentication() bool
	State() auth.State
}

// AuthCmd handles credential lifecycle operations.
type AuthCmd struct {
	session SessionService
}

// LoginInput holds input for logging in.
type LoginInput struct {
	Password string
	Output   string
}

// Login obtains and persists a new credential.
func (a AuthCmd) Login(ctx context.Context, in LoginInput) error {
	if in.Password == "" {
		return fmt.Errorf("password is required")
	}

	token, err := a.session.Login(ctx, in.Password)
	if err != nil {
		pterm.Error.Printf("Login failed: %v\n", err)
		return err
	}

	state := a.session.State()
	if in.Output == "json" {
		return util.PrintPrettyJSON(state)
	}

	pterm.Success.Println("Logged in")
	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Credential", auth.PreviewToken(token)})
	if exp, ok := auth.TokenExpiry(token); ok {
		rows = append(rows, []string{"Expires", util.FormatLocal(exp)})
	}
	PrintTableNoPad(rows, true)
	return nil
}

// Logout evicts the local session and notifies the server best-effort.
func (a AuthCmd) Logout(ctx context.Context) error {
	a.session.Logout(ctx)
	pterm.Success.Println("Logged out")
	return nil
}

// StatusInput holds input for the auth status command.
type StatusInput struct {
	Check  bool
	Output string
}

// Status prints the local authentication state, optionally validated against
// the server.
func (a AuthCmd) Status(ctx context.Context, in StatusInput) error {
	state := a.session.LoadPersistedSession(ctx)
	if in.Check {
		a.session.CheckAuthWithServer(ctx)
		state = a.session.State()
	}

	if in.Output == "json" {
		return util.PrintPrettyJSON(state)
	}

	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Authenticated", fmt.Sprintf("%t", state.IsAuthenticated)})
	rows = append(rows, []string{"Has credential", fmt.Sprintf("%t", state.HasCredential)})
	rows = append(rows, []string{"Credential", util.OrDash(state.CredentialPreview)})
	PrintTableNoPad(rows, true)

	if !state.IsAuthenticated {
		pterm.Info.Println("Run 'skimmr auth login' to authenticate")
	}
	return nil
}

// Reset unconditionally evicts the credential from memory and all storage.
func (a AuthCmd) Reset(ctx context.Context) error {
	a.session.ResetAuthentication()
	pterm.Success.Println("Authentication state cleared")
	return nil
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication with the Skimmr service",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with the shared service password",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and clear the stored credential",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current authentication state",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear authentication state from memory and all storage backends",
	Args:  cobra.NoArgs,
	RunE:  runAuthReset,
}

func init() {
	authLoginCmd.Flags().StringP("password", "p", "", "Service password (prompted when omitted)")
	authLoginCmd.Flags().StringP("output", "o", "", "Output format (json)")
	authStatusCmd.Flags().Bool("check", false, "Validate the session against the server")
	authStatusCmd.Flags().StringP("output", "o", "", "Output format (json)")

	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd, authResetCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	password, _ := cmd.Flags().GetString("password")
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}

	if password == "" {
		entered, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
		if err != nil {
			return err
		}
		password = entered
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	a := AuthCmd{session: rt.session}
	return a.Login(cmd.Context(), LoginInput{Password: password, Output: output})
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	// Restore the persisted credential first so the server notification can
	// still authenticate.
	rt.session.LoadPersistedSession(cmd.Context())
	a := AuthCmd{session: rt.session}
	return a.Logout(cmd.Context())
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	check, _ := cmd.Flags().GetBool("check")
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	a := AuthCmd{session: rt.session}
	return a.Status(cmd.Context(), StatusInput{Check: check, Output: output})
}

func runAuthReset(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	a := AuthCmd{session: rt.session}
	return a.Reset(cmd.Context())
}
