package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/fortunegame/internal/model"
)

func newGetCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Draw a fortune",
		Long: `Draw a random fortune, optionally from one category. When credentials are
set the fortune is recorded in your history.

Categories: General, Funny, Wise, Cursed, Motivational, Romantic.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *model.Category
			if category != "" {
				c, err := model.ParseCategory(category)
				if err != nil {
					return err
				}
				filter = &c
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, _, err := connect(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			f, err := c.Fortune(ctx, filter)
			if err != nil {
				return err
			}

			NewOutput(cmd.OutOrStdout(), cfg.Output).Print(NewFortuneView(f))
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Category name or number")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the fortunes you have drawn",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, _, err := connect(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			items, err := c.History(ctx)
			if err != nil {
				return err
			}

			list := make(HistoryList, 0, len(items))
			for _, h := range items {
				list = append(list, HistoryView{Text: h.FortuneText, Rarity: h.Rarity, Date: h.Date})
			}
			NewOutput(cmd.OutOrStdout(), cfg.Output).Print(list)
			return nil
		},
	}
}

func newMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Show the fortunes you have submitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, _, err := connect(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			fortunes, err := c.MyFortunes(ctx)
			if err != nil {
				return err
			}

			list := make(FortuneList, 0, len(fortunes))
			for _, f := range fortunes {
				list = append(list, NewFortuneView(f))
			}
			NewOutput(cmd.OutOrStdout(), cfg.Output).Print(list)
			return nil
		},
	}
}

func newSubmitCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "submit <text>",
		Short: "Add a fortune to the pool",
		Long: `Add a fortune to the pool. Without credentials the fortune is submitted
anonymously.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("fortune text is required")
			}
			cat, err := model.ParseCategory(category)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, _, err := connect(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Submit(text, cat); err != nil {
				return err
			}

			out := NewOutput(cmd.OutOrStdout(), cfg.Output)
			if !cfg.HasCredentials() {
				out.PrintMessage("Fortune submitted")
				return nil
			}

			// The server does not acknowledge submissions; the listing
			// reply arrives after the submission has been stored
			fortunes, err := c.MyFortunes(ctx)
			if err != nil {
				return err
			}
			if len(fortunes) == 0 {
				return fmt.Errorf("submission was not stored")
			}
			out.Print(NewFortuneView(fortunes[0]))
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", model.DefaultCategory.String(), "Category name or number")

	return cmd
}
