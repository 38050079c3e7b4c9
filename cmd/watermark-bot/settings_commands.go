package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maauso/watermark-bot/internal/bootstrap"
	"github.com/maauso/watermark-bot/internal/settings"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change the persisted watermark settings",
		Long: "Inspect or change the persisted watermark settings while the bot is stopped.\n" +
			"Use PATCH /settings to change them on a running bot.",
	}

	settingsCmd.AddCommand(newSettingsShowCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))
	settingsCmd.AddCommand(newSettingsResetCommand(ctx))

	return settingsCmd
}

func newSettingsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current watermark settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettingsStore(ctx, func(store *settings.Store) error {
				printSettings(cmd.OutOrStdout(), store.Snapshot())
				return nil
			})
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	var (
		textFlag     string
		fontSizeFlag int
		colorFlag    string
		positionFlag string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or more watermark settings",
		Example: "  watermark-bot settings set --text \"@mychannel\" --position top_left\n" +
			"  watermark-bot settings set --font-size 36 --font-color yellow",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var changes settings.Changes
			if flags.Changed("text") {
				changes.Text = &textFlag
			}
			if flags.Changed("font-size") {
				changes.FontSize = &fontSizeFlag
			}
			if flags.Changed("font-color") {
				changes.FontColor = &colorFlag
			}
			if flags.Changed("position") {
				p, err := settings.ParsePosition(positionFlag)
				if err != nil {
					return err
				}
				changes.Position = &p
			}
			if changes.IsEmpty() {
				return fmt.Errorf("nothing to change: pass at least one of --text, --font-size, --font-color or --position")
			}

			return withSettingsStore(ctx, func(store *settings.Store) error {
				if err := store.Update(changes); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Settings updated")
				printSettings(out, store.Snapshot())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&textFlag, "text", "", "Watermark text")
	cmd.Flags().IntVar(&fontSizeFlag, "font-size", 0, "Font size in points")
	cmd.Flags().StringVar(&colorFlag, "font-color", "", "Font color name or hex value")
	cmd.Flags().StringVar(&positionFlag, "position", "", "Watermark position (top_left, top_right, bottom_left, bottom_right, center)")
	return cmd
}

func newSettingsResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the default watermark settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettingsStore(ctx, func(store *settings.Store) error {
				current, err := settings.Apply(store, settings.ResetAll{})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Settings reset to default values")
				printSettings(out, current)
				return nil
			})
		},
	}
}

// withSettingsStore holds the instance lock for the duration of fn, so it
// fails while the bot is running.
func withSettingsStore(ctx *commandContext, fn func(*settings.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	lock, err := bootstrap.AcquireLock(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	store, err := bootstrap.NewSettingsStore(cfg, ctx.logger())
	if err != nil {
		return err
	}
	return fn(store)
}

func printSettings(out io.Writer, s settings.WatermarkSettings) {
	rows := [][]string{
		{"Text", s.Text},
		{"Position", fmt.Sprintf("%s (%s)", s.Position.Label(), s.Position)},
		{"Font size", strconv.Itoa(s.FontSize)},
		{"Font color", s.FontColor},
	}
	fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, rows))
}
