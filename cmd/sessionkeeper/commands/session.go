package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/sessionkeeper/internal/api"
	"github.com/florianilch/sessionkeeper/internal/app"
	"github.com/florianilch/sessionkeeper/internal/session"
	"github.com/florianilch/sessionkeeper/internal/tokensource"
)

var passwordFlag = &cli.StringFlag{
	Name:  "password",
	Usage: "password (prompted for when omitted)",
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in and store the session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
			passwordFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				user, err := application.Client().Login(ctx, api.LoginInput{
					Email:    cmd.String("email"),
					Password: password,
				})
				if err != nil {
					return fmt.Errorf("login failed: %w", err)
				}
				_, err = fmt.Fprintf(cmd.Root().Writer, "logged in as %s <%s> (%s)\n", user.Name, user.Email, user.Role)
				return err
			})
		},
	}
}

func signupCommand() *cli.Command {
	return &cli.Command{
		Name:  "signup",
		Usage: "register an account and store its session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "display name", Required: true},
			&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
			&cli.StringFlag{Name: "role", Usage: "account role", Value: "USER"},
			passwordFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				user, err := application.Client().Signup(ctx, api.SignupInput{
					Name:     cmd.String("name"),
					Email:    cmd.String("email"),
					Password: password,
					Role:     cmd.String("role"),
				})
				if err != nil {
					return fmt.Errorf("signup failed: %w", err)
				}
				_, err = fmt.Fprintf(cmd.Root().Writer, "signed up as %s <%s> (%s)\n", user.Name, user.Email, user.Role)
				return err
			})
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget the stored session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				if err := application.Client().Logout(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.Root().Writer, "logged out")
				return err
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the stored session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				status, identity := application.Client().Session()
				out := cmd.Root().Writer
				switch {
				case status != session.StatusAuthenticated && application.Store().Get().RefreshToken != "":
					_, err := fmt.Fprintln(out, "access token missing, next call will refresh")
					return err
				case status != session.StatusAuthenticated:
					_, err := fmt.Fprintln(out, "not logged in")
					return err
				case identity.Empty():
					_, err := fmt.Fprintln(out, "authenticated")
					return err
				default:
					_, err := fmt.Fprintf(out, "authenticated as %s <%s> (%s), id %s\n", identity.Name, identity.Email, identity.Role, identity.UserID)
					return err
				}
			})
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print the stored access token for use with other tools",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
				tok, err := tokensource.FromStore(application.Store()).Token()
				if err != nil {
					return fmt.Errorf("%w: %w", api.ErrNotAuthenticated, err)
				}
				_, err = fmt.Fprintln(cmd.Root().Writer, tok.AccessToken)
				return err
			})
		},
	}
}

func passwordCommand() *cli.Command {
	return &cli.Command{
		Name:  "password",
		Usage: "password recovery",
		Commands: []*cli.Command{
			{
				Name:  "forgot",
				Usage: "request a password reset mail",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						return application.Client().ForgotPassword(ctx, api.ForgotPasswordInput{Email: cmd.String("email")})
					})
				},
			},
			{
				Name:  "reset",
				Usage: "set a new password with a reset token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "reset token from the mail", Required: true},
					passwordFlag,
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					password, err := readPassword(cmd)
					if err != nil {
						return err
					}
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						return application.Client().ResetPassword(ctx, api.ResetPasswordInput{
							Token:    cmd.String("token"),
							Password: password,
						})
					})
				},
			},
		},
	}
}

// readPassword takes --password, prompts on a terminal, or reads one line
// from a piped stdin.
func readPassword(cmd *cli.Command) (string, error) {
	if p := cmd.String("password"); p != "" {
		return p, nil
	}

	root := cmd.Root()
	if f, ok := root.Reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(root.ErrWriter, "Password: ")
		p, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(root.ErrWriter)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(p), nil
	}

	line, err := bufio.NewReader(root.Reader).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
