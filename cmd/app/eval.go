package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"FinVerdict/internal/di"
	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/services/verdict"
	"FinVerdict/pkg/config"
	xhttp "FinVerdict/pkg/http"
	"FinVerdict/pkg/logger"
)

var evalFile string

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate one VerdictContext JSON with neutral ports and print the verdict",
	Example: `  finverdict eval --file ctx.json
  cat ctx.json | finverdict eval --file -`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVarP(&evalFile, "file", "f", "-", "VerdictContext JSON file, - for stdin")
}

func runEval(cmd *cobra.Command, _ []string) error {
	cfg, err := loadEvalConfig()
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if evalFile != "-" {
		f, err := os.Open(evalFile)
		if err != nil {
			return fmt.Errorf("open context: %w", err)
		}
		defer f.Close()
		in = f
	}

	vctx := &models.VerdictContext{}
	if err := json.NewDecoder(in).Decode(vctx); err != nil {
		return fmt.Errorf("decode context: %w", err)
	}
	if err := xhttp.ValidationErrors(xhttp.ValidateStruct(cmd.Context(), vctx)); err != nil {
		return err
	}

	rb, err := di.ProvideRulebook(cfg)
	if err != nil {
		return err
	}
	lgr, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}
	engine := verdict.NewEngine(
		verdict.WithConfig(cfg.Engine),
		verdict.WithRulebook(rb),
		verdict.WithLogger(lgr),
	)

	v := engine.Evaluate(cmd.Context(), vctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadEvalConfig falls back to defaults when the config file does not exist.
func loadEvalConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
