// Package commands implements the pageimages command tree.
package commands

import (
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/novvoo/go-pageimages/internal/config"
	"github.com/novvoo/go-pageimages/internal/extract"
	"github.com/novvoo/go-pageimages/internal/observability"
)

// Version is set at build time with -ldflags "-X ...commands.Version=..."
var Version = "0.1.0"

// app carries state shared by the subcommands of one invocation
type app struct {
	cfgFile   string
	verbose   bool
	logFormat string
	noColor   bool

	cfg *config.Config
	log *observability.Logger
}

// extractFlags are the flags shared by extract and list
type extractFlags struct {
	page      int
	outputDir string
	mode      string
	raw       bool
	password  string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "pageimages",
		Short: "Extract the images of a PDF page",
		Long: `pageimages writes every image of one PDF page to its own file.
Files are named <ordinal><name>, where the ordinal counts images in the
order the page paints them, starting at 0.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newExtractCmd(a), newListCmd(a), newVersionCmd())
	return rootCmd
}

// setup loads configuration and builds the logger
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return &usageError{err: err}
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	if a.noColor {
		color.NoColor = true
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logCfg.NoColor = color.NoColor
	a.cfg = cfg
	a.log = observability.NewLogger(logCfg)
	return nil
}

// bindExtractFlags registers the flags shared by extract and list
func bindExtractFlags(cmd *cobra.Command, f *extractFlags, withOutput bool) {
	cmd.Flags().IntVarP(&f.page, "page", "p", 0, "zero-based page index")
	cmd.Flags().StringVar(&f.mode, "mode", "native", "image mode: native or raw")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "shorthand for --mode raw")
	cmd.Flags().StringVar(&f.password, "password", "", "password of an encrypted document")
	if withOutput {
		cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "directory to write images to")
	}
}

// extractor merges flags over configuration and builds the Extractor.
// Flags given on the command line win.
func (a *app) extractor(cmd *cobra.Command, f *extractFlags) (*extract.Extractor, int, error) {
	settings := a.cfg.Extract
	flags := cmd.Flags()
	if flags.Changed("page") {
		settings.Page = f.page
	}
	if flags.Changed("mode") {
		settings.Mode = f.mode
		settings.Raw = false
	}
	if flags.Changed("raw") {
		settings.Raw = f.raw
	}
	if flags.Changed("password") {
		settings.Password = f.password
	}
	if flags.Lookup("output-dir") != nil && flags.Changed("output-dir") {
		settings.OutputDir = f.outputDir
	}
	if settings.Page < 0 {
		return nil, 0, &usageError{err: errNegativePage(settings.Page)}
	}

	mode, err := settings.ImageMode()
	if err != nil {
		return nil, 0, &usageError{err: err}
	}
	a.log.Debug().Str("mode", mode.String()).Bool("password", settings.Password != "").Msg("extract settings")
	opener := extract.PDFOpener{Password: settings.Password, Mode: mode}
	e := extract.New(opener,
		extract.WithOutputDir(settings.OutputDir),
		extract.WithLogger(a.log.WithOperation(cmd.Name())),
	)
	return e, settings.Page, nil
}

// Execute runs the command tree with the process arguments and returns
// the exit code.
func Execute() int {
	return run(nil, nil, nil)
}

// run executes the command tree. Nil arguments use the process defaults.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	if args != nil {
		rootCmd.SetArgs(args)
	}
	if stdout != nil {
		rootCmd.SetOut(stdout)
	}
	if stderr != nil {
		rootCmd.SetErr(stderr)
	}

	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrln(color.RedString("Error:"), err)
	}
	return ExitCode(err)
}
