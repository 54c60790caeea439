package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dvbotkin/macrotape/internal/browser"
	"github.com/dvbotkin/macrotape/internal/observability"
	"github.com/dvbotkin/macrotape/internal/recorder"
)

// newRecordCmd creates and configures the `record` command.
func newRecordCmd() *cobra.Command {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Records browser interactions as a macro",
		Long: `Opens a browser and records your interactions as a replayable macro.
Stop the recording with Ctrl-C; the compacted command script is written to
the output file.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("recorder.encrypt_keystrokes", cmd.Flags().Lookup("encrypt"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if err := viper.Unmarshal(cfg); err != nil {
				return fmt.Errorf("failed to apply flag overrides: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}
			sessionPath, err := cmd.Flags().GetString("session")
			if err != nil {
				return err
			}
			startURL, err := cmd.Flags().GetString("url")
			if err != nil {
				return err
			}

			var cipher *recorder.Cipher
			if cfg.Recorder.EncryptKeystrokes {
				cipher, err = recorder.NewCipher(cfg.Recorder.Passphrase)
				if err != nil {
					return err
				}
			}

			// Recording needs a visible browser.
			browserCfg := cfg.Browser
			browserCfg.Headless = false

			b := browser.New(browserCfg, logger)
			defer func() {
				if err := b.Close(); err != nil {
					logger.Warn("Browser shutdown reported an error", zap.Error(err))
				}
			}()

			if startURL != "" {
				driver := browser.NewDriver(b, browserCfg, logger)
				if err := driver.Navigate(ctx, startURL); err != nil {
					return err
				}
			}

			rec := recorder.New(cipher, logger)
			rec.Start()

			capture, err := browser.StartCapture(ctx, b, rec, cfg.Recorder.EventBuffer, logger)
			if err != nil {
				return err
			}

			fmt.Fprintln(os.Stderr, "Recording. Interact with the browser; press Ctrl-C to stop.")
			<-ctx.Done()

			if err := capture.Stop(); err != nil {
				logger.Warn("Capture stopped with an error", zap.Error(err))
			}
			session := rec.Stop()

			if len(session.Actions) == 0 {
				return fmt.Errorf("nothing was recorded")
			}

			if err := os.WriteFile(output, []byte(session.Script()), 0o644); err != nil {
				return fmt.Errorf("failed to write macro: %w", err)
			}
			logger.Info("Macro written",
				zap.String("path", output),
				zap.Int("commands", len(session.Actions)))

			if sessionPath != "" {
				if err := session.Save(sessionPath); err != nil {
					return err
				}
				logger.Info("Session metadata written", zap.String("path", sessionPath))
			}
			return nil
		},
	}

	recordCmd.Flags().StringP("output", "o", "recording.iim", "macro output file")
	recordCmd.Flags().String("session", "", "also write session metadata as JSON")
	recordCmd.Flags().String("url", "", "navigate to this URL before recording")
	recordCmd.Flags().Bool("encrypt", false, "encrypt recorded keystrokes (requires MACROTAPE_CRYPT_PASSPHRASE)")
	return recordCmd
}

func init() {
	rootCmd.AddCommand(newRecordCmd())
}
