package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/sessionkeeper/internal/api"
	"github.com/florianilch/sessionkeeper/internal/app"
)

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "manage users with the stored session",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list users",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						users, err := application.Client().ListUsers(ctx)
						if err != nil {
							return err
						}
						return printUsers(cmd.Root().Writer, users...)
					})
				},
			},
			{
				Name:  "managers",
				Usage: "list managers",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						users, err := application.Client().ListManagers(ctx)
						if err != nil {
							return err
						}
						return printUsers(cmd.Root().Writer, users...)
					})
				},
			},
			{
				Name:      "get",
				Usage:     "show one user",
				ArgsUsage: "<id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := requireID(cmd)
					if err != nil {
						return err
					}
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						user, err := application.Client().GetUser(ctx, id)
						if err != nil {
							return err
						}
						return printUsers(cmd.Root().Writer, *user)
					})
				},
			},
			{
				Name:  "create",
				Usage: "create a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "role", Value: "USER"},
					passwordFlag,
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					password, err := readPassword(cmd)
					if err != nil {
						return err
					}
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						user, err := application.Client().CreateUser(ctx, api.CreateUserInput{
							Name:     cmd.String("name"),
							Email:    cmd.String("email"),
							Password: password,
							Role:     cmd.String("role"),
						})
						if err != nil {
							return err
						}
						return printUsers(cmd.Root().Writer, *user)
					})
				},
			},
			{
				Name:      "update",
				Usage:     "replace the editable fields of a user",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "role", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := requireID(cmd)
					if err != nil {
						return err
					}
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						user, err := application.Client().UpdateUser(ctx, id, api.UpdateUserInput{
							Name:  cmd.String("name"),
							Email: cmd.String("email"),
							Role:  cmd.String("role"),
						})
						if err != nil {
							return err
						}
						return printUsers(cmd.Root().Writer, *user)
					})
				},
			},
			{
				Name:      "edit",
				Usage:     "change selected fields of a user",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "email"},
					&cli.StringFlag{Name: "role"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := requireID(cmd)
					if err != nil {
						return err
					}
					var in api.EditUserInput
					if cmd.IsSet("name") {
						in.Name = stringPtr(cmd.String("name"))
					}
					if cmd.IsSet("email") {
						in.Email = stringPtr(cmd.String("email"))
					}
					if cmd.IsSet("role") {
						in.Role = stringPtr(cmd.String("role"))
					}
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						user, err := application.Client().EditUser(ctx, id, in)
						if err != nil {
							return err
						}
						return printUsers(cmd.Root().Writer, *user)
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "delete a user",
				ArgsUsage: "<id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := requireID(cmd)
					if err != nil {
						return err
					}
					return withApp(ctx, cmd, func(ctx context.Context, application *app.App) error {
						if err := application.Client().DeleteUser(ctx, id); err != nil {
							return err
						}
						_, err := fmt.Fprintf(cmd.Root().Writer, "deleted %s\n", id)
						return err
					})
				},
			},
		},
	}
}

func requireID(cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("missing user id")
	}
	return id, nil
}

func printUsers(w io.Writer, users ...api.User) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role)
	}
	return tw.Flush()
}

func stringPtr(s string) *string {
	return &s
}
