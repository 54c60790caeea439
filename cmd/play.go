package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dvbotkin/macrotape/internal/browser"
	"github.com/dvbotkin/macrotape/internal/dom"
	"github.com/dvbotkin/macrotape/internal/evaljs"
	"github.com/dvbotkin/macrotape/internal/loader"
	"github.com/dvbotkin/macrotape/internal/locator"
	"github.com/dvbotkin/macrotape/internal/macro"
	"github.com/dvbotkin/macrotape/internal/observability"
	"github.com/dvbotkin/macrotape/internal/player"
	"github.com/dvbotkin/macrotape/internal/recorder"
	"github.com/dvbotkin/macrotape/internal/store"
)

// newPlayCmd creates and configures the `play` command.
func newPlayCmd() *cobra.Command {
	playCmd := &cobra.Command{
		Use:   "play [macro]",
		Short: "Replays a recorded macro",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags override file and environment values.
			if err := viper.BindPFlag("player.actions_per_second", cmd.Flags().Lookup("speed")); err != nil {
				return err
			}
			return viper.BindPFlag("macros.dir", cmd.Flags().Lookup("dir"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if err := viper.Unmarshal(cfg); err != nil {
				return fmt.Errorf("failed to apply flag overrides: %w", err)
			}

			loops, err := cmd.Flags().GetInt("loop")
			if err != nil {
				return err
			}
			if loops < 1 {
				loops = cfg.Player.DefaultLoops
			}
			vars, err := cmd.Flags().GetStringArray("var")
			if err != nil {
				return err
			}
			dataSource, err := cmd.Flags().GetString("datasource")
			if err != nil {
				return err
			}

			sources, cleanup, err := buildSources(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			content, err := resolveMacro(ctx, sources, args[0])
			if err != nil {
				return err
			}
			actions, err := macro.ParseScript(content)
			if err != nil {
				return err
			}

			b := browser.New(cfg.Browser, logger)
			defer func() {
				if err := b.Close(); err != nil {
					logger.Warn("Browser shutdown reported an error", zap.Error(err))
				}
			}()

			driver := browser.NewDriver(b, cfg.Browser, logger)
			resolver := locator.New(dom.NewTreeHost(), logger)
			evaluator := evaljs.New(logger)
			evaluator.SetTimeout(cfg.Player.EvalTimeout)

			p := player.New(player.Config{
				MaxNesting:       cfg.Player.MaxNesting,
				ActionsPerSecond: cfg.Player.ActionsPerSecond,
			}, driver, resolver, evaluator, sources, consoleInputProvider(), logger)

			for _, pair := range vars {
				name, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --var %q, want NAME=VALUE", pair)
				}
				p.Scope().Set(name, value)
			}
			if dataSource != "" {
				seed := macro.Action{Name: "SET", Args: []string{"!DATASOURCE", macro.Quote(dataSource)}}
				actions = append([]macro.Action{seed}, actions...)
			}

			logger.Info("Replaying macro",
				zap.String("macro", args[0]),
				zap.Int("loops", loops),
				zap.Int("actions", len(actions)))

			if err := p.Play(ctx, actions, loops); err != nil {
				return err
			}

			for _, extract := range p.Extracts() {
				fmt.Println(extract)
			}
			return nil
		},
	}

	playCmd.Flags().Int("loop", 0, "number of times to replay the macro")
	playCmd.Flags().StringArray("var", nil, "seed a variable, NAME=VALUE (repeatable)")
	playCmd.Flags().String("datasource", "", "CSV file feeding {{!COLn}} placeholders")
	playCmd.Flags().Float64("speed", 0, "replay pace in actions per second (0 = unthrottled)")
	playCmd.Flags().String("dir", "", "macro library directory")
	return playCmd
}

// buildSources assembles the macro resolution chain: the local library
// directory first, then the shared store when one is configured.
func buildSources(ctx context.Context, logger *zap.Logger) ([]loader.Source, func(), error) {
	dir, err := loader.NewDir(cfg.Macros.Dir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open macro directory: %w", err)
	}
	sources := []loader.Source{dir}
	cleanup := func() {}

	if cfg.Store.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Store.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to macro store: %w", err)
		}
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		sources = append(sources, st)
		cleanup = pool.Close
	}
	return sources, cleanup, nil
}

// resolveMacro finds the top-level macro by the same candidate rules RUN
// uses.
func resolveMacro(ctx context.Context, sources []loader.Source, name string) (string, error) {
	var tried []string
	for _, candidate := range loader.Candidates(name) {
		tried = append(tried, candidate)
		for _, source := range sources {
			content, ok, err := source.Load(ctx, candidate)
			if err != nil {
				return "", err
			}
			if ok {
				return content, nil
			}
		}
	}
	return "", &macro.MacroNotFoundError{Name: name, Tried: tried}
}

// consoleInputProvider satisfies external-input signals interactively: file
// paths are prompted on the terminal, encrypted values are decrypted with
// the configured passphrase.
func consoleInputProvider() player.InputProvider {
	return func(ctx context.Context, signal *macro.NeedsExternalInput) (string, error) {
		switch signal.Kind {
		case macro.InputFile:
			fmt.Fprintf(os.Stderr, "File required for upload field: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", fmt.Errorf("failed to read file path: %w", err)
			}
			return strings.TrimSpace(line), nil

		case macro.InputDecrypt:
			if cfg.Recorder.Passphrase == "" {
				return "", fmt.Errorf("macro contains encrypted input; set MACROTAPE_CRYPT_PASSPHRASE")
			}
			cipher, err := recorder.NewCipher(cfg.Recorder.Passphrase)
			if err != nil {
				return "", err
			}
			return cipher.Decrypt(signal.Payload)

		default:
			return "", fmt.Errorf("unsupported input request: %s", signal)
		}
	}
}

func init() {
	rootCmd.AddCommand(newPlayCmd())
}
