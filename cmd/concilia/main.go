package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/liradata/concilia/pkg/config"
	"github.com/liradata/concilia/pkg/pipeline"
	"github.com/liradata/concilia/pkg/report"
	"github.com/liradata/concilia/pkg/server"
	"github.com/liradata/concilia/pkg/store"
	"github.com/liradata/concilia/pkg/tabular"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "concilia",
	Short: "Conciliação de fornecedores: financeiro x contábil",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Importa os arquivos de entrada, concilia e exporta as planilhas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, s, _, logger, err := buildRunner()
		if err != nil {
			return err
		}
		defer s.Close()

		outcomes, runErr := runner.Run()
		summary := pipeline.Summary(outcomes)
		if verbose {
			pp.Println(outcomes)
		}
		for _, o := range outcomes {
			if o.Status == pipeline.StatusSuccess {
				continue
			}
			logger.Error("step failed", "step", o.Step, "code", o.Code, "message", o.Message, "path", o.Path)
		}
		if runErr != nil {
			return fmt.Errorf("%s: %w", summary, runErr)
		}
		logger.Info(summary)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Importa os arquivos de um diretório para o banco",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, s, cfg, logger, err := buildRunner()
		if err != nil {
			return err
		}
		defer s.Close()

		dir := cfg.InputDir
		if len(args) == 1 {
			dir = args[0]
		}

		outcomes, imported := runner.ImportDir(dir)
		if verbose {
			pp.Println(outcomes)
		}
		if imported == 0 {
			return fmt.Errorf("no files imported from %s", dir)
		}
		logger.Info("import finished", "imported", imported, "outcomes", len(outcomes))
		return nil
	},
}

var importFileCmd = &cobra.Command{
	Use:   "import-file <path>",
	Short: "Importa um único arquivo, detectando o tipo pelo nome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, s, _, logger, err := buildRunner()
		if err != nil {
			return err
		}
		defer s.Close()

		kind, ok := tabular.DetectKind(args[0])
		if !ok {
			return fmt.Errorf("cannot detect source kind from %s", args[0])
		}
		rows, err := runner.ImportFile(args[0], kind)
		if err != nil {
			return err
		}
		logger.Info("file imported", "kind", kind, "rows", rows)
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Roda a conciliação sobre os dados já importados",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, s, _, logger, err := buildRunner()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := runner.Reconcile(); err != nil {
			return err
		}
		logger.Info("reconciliation finished")
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <fornecedores|adiantamentos>",
	Short: "Exporta a planilha de uma das visões",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view := report.View(args[0])
		if view != report.ViewVendors && view != report.ViewAdvances {
			return fmt.Errorf("unknown view %q", args[0])
		}

		runner, s, _, logger, err := buildRunner()
		if err != nil {
			return err
		}
		defer s.Close()

		path, err := runner.Export(view)
		if err != nil {
			return err
		}
		logger.Info("workbook exported", "path", path)
		return nil
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sobe o servidor HTTP de importação e conciliação",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, s, cfg, logger, err := buildRunner()
		if err != nil {
			return err
		}
		defer s.Close()

		srv := server.New(cfg, logger.With("component", "server"), runner, s)
		logger.Info("starting server", "addr", serveAddr)
		return srv.Start(serveAddr)
	},
}

func buildRunner() (*pipeline.Runner, *store.Store, *config.Config, *log.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Prefix:          "concilia",
		Level:           level,
	})

	if err := os.MkdirAll(cfg.ResultsDir, 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create results dir: %w", err)
	}

	s, err := store.Open(cfg.DatabaseDSN, cfg.TableNames, logger.With("component", "store"))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	runner, err := pipeline.New(cfg, s, logger)
	if err != nil {
		s.Close()
		return nil, nil, nil, nil, err
	}
	return runner, s, cfg, logger, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "0.0.0.0:3000", "listen address")
	rootCmd.AddCommand(runCmd, importCmd, importFileCmd, reconcileCmd, exportCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
