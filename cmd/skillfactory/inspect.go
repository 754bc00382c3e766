package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/programme-lv/skillfactory/internal/gatherer/termgath"
	"github.com/programme-lv/skillfactory/internal/packager"
	"github.com/urfave/cli/v3"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "print the manifest and contents of a .skill bundle",
		ArgsUsage: "<bundle>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			bundle := cmd.Args().First()
			if bundle == "" {
				return errors.New("a bundle path is required")
			}
			m, names, err := packager.Open(bundle)
			if err != nil {
				return err
			}

			bold := color.New(color.Bold).SprintFunc()
			fmt.Fprintf(a.out, "%s %s\n", bold(m.Name), termgath.Status(m.Status))
			if m.Description != "" {
				fmt.Fprintln(a.out, m.Description)
			}
			fmt.Fprintf(a.out, "packaged %s\n\n", m.PackagedAt.Local().Format("2006-01-02 15:04:05"))
			for _, n := range names {
				fmt.Fprintln(a.out, "  "+n)
			}
			return nil
		},
	}
}
