package main

import (
	"context"
	"fmt"

	"github.com/programme-lv/skillfactory/internal/task"
	"github.com/urfave/cli/v3"
)

func prefetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "prefetch",
		Usage:     "pull the sandbox images of the given languages (default: all)",
		ArgsUsage: "[language...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			langs := task.Languages
			if cmd.Args().Len() > 0 {
				langs = nil
				for _, s := range cmd.Args().Slice() {
					lang, err := task.ParseLanguage(s)
					if err != nil {
						return err
					}
					langs = append(langs, lang)
				}
			}

			failed := 0
			for _, lang := range langs {
				if !a.engine.Prefetch(ctx, lang) {
					failed++
				}
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d images could not be pulled", failed, len(langs)), 1)
			}
			return nil
		},
	}
}
