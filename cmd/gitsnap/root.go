package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gitsnap/pkg/archiver"
	"gitsnap/pkg/auth"
	"gitsnap/pkg/config"
	"gitsnap/pkg/github"
	"gitsnap/pkg/logger"
	"gitsnap/pkg/ui"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// options holds the parsed command line
type options struct {
	configFile  string
	outputDir   string
	logLevel    string
	verbose     bool
	quiet       bool
	noColor     bool
	assumeYes   bool
	maxRetries  int
	timeout     int
	rateLimit   int
	noVerify    bool
	metadata    bool
	saveToken   bool
	forgetToken bool
}

func newRootCmd() *cobra.Command {
	return newCommand(&options{})
}

func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gitsnap [flags] <username>",
		Short: "Download every public repository of a GitHub user as a ZIP archive",
		Long: `gitsnap lists the public repositories of a GitHub user and downloads a ZIP
snapshot of each default branch into a local directory.

Archives that already exist are skipped, so running gitsnap again only fetches
what is missing. Interrupted downloads never leave a partial archive behind.

A token is optional. It raises the API rate limit and is read from
GITSNAP_GITHUB_TOKEN, GITHUB_TOKEN, the config file, or the token stored
with --save-token.`,
		Example: `  # Archive all repositories of octocat into ./octocat
  gitsnap octocat

  # Archive into a specific directory without the confirmation prompt
  gitsnap octocat -o ~/backups/octocat -y

  # Store a token in the system keychain
  gitsnap --save-token`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// color stays auto-detected unless it is switched off
			if opts.noColor {
				ui.SetNoColor(true)
			}
			ui.SetQuietMode(opts.quiet)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outputDir, "output", "o", "", "target directory (default ./<username>)")
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default .gitsnap.yaml or ~/.config/gitsnap/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all output except errors")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&opts.assumeYes, "yes", "y", false, "skip the confirmation prompt")
	flags.IntVar(&opts.maxRetries, "max-retries", 3, "download attempts per repository")
	flags.IntVar(&opts.timeout, "timeout", 30, "seconds without data before a download is aborted")
	flags.IntVar(&opts.rateLimit, "rate-limit", 60, "archive requests per minute")
	flags.BoolVar(&opts.noVerify, "no-verify", false, "skip ZIP validation of downloaded archives")
	flags.BoolVar(&opts.metadata, "metadata", false, "write a <name>.zip.json sidecar with repository details")
	flags.BoolVar(&opts.saveToken, "save-token", false, "read a GitHub token from the terminal and store it")
	flags.BoolVar(&opts.forgetToken, "forget-token", false, "delete the stored GitHub token")
	cmd.MarkFlagsMutuallyExclusive("save-token", "forget-token")
	cmd.MarkFlagsMutuallyExclusive("quiet", "verbose")

	cmd.SetVersionTemplate(`gitsnap {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	cmd.CompletionOptions.DisableDefaultCmd = true

	return cmd
}

// flagOverrides collects the flags set on the command line for config.Load
func flagOverrides(cmd *cobra.Command, opts *options) map[string]interface{} {
	flags := make(map[string]interface{})
	changed := cmd.Flags().Changed

	if changed("output") {
		flags["output"] = opts.outputDir
	}
	if changed("log-level") {
		flags["log-level"] = opts.logLevel
	}
	if opts.verbose {
		flags["log-level"] = "debug"
	}
	if changed("max-retries") {
		flags["max-retries"] = opts.maxRetries
	}
	if changed("timeout") {
		flags["timeout"] = opts.timeout
	}
	if changed("rate-limit") {
		flags["rate-limit"] = opts.rateLimit
	}
	if opts.noVerify {
		flags["verify"] = false
	}
	if changed("metadata") {
		flags["metadata"] = opts.metadata
	}
	return flags
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	if opts.forgetToken {
		return forgetToken()
	}
	if opts.saveToken {
		if err := saveToken(); err != nil {
			return err
		}
		if len(args) == 0 {
			return nil
		}
	}

	if len(args) == 0 {
		return errors.New("a GitHub username is required (see gitsnap --help)")
	}
	username := github.SanitizeUsername(args[0])
	if !github.IsValidUsername(username) {
		return fmt.Errorf("invalid GitHub username %q", args[0])
	}

	cfg, err := config.Load(opts.configFile, flagOverrides(cmd, opts))
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger().WithField("username", username)

	if cfg.GitHub.Token == "" {
		resolveStoredToken(cfg, log)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := archiver.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ui.PrintBanner(username, cfg.TargetDirectory(username))

	repos := a.Repositories(ctx, username)
	if !opts.assumeYes && !opts.quiet && term.IsTerminal(int(os.Stdin.Fd())) {
		list, err := archiver.Collect(repos)
		if err != nil {
			return listingError(ctx, username, err)
		}
		if len(list) > 0 && !confirm(username, list) {
			ui.PrintWarning("Cancelled")
			return nil
		}
		repos = archiver.FromSlice(list)
	}

	summary, err := a.Process(ctx, username, repos)
	a.Close()
	if summary != nil && (summary.Total > 0 || err == nil) {
		ui.PrintSummary(ui.Out, summary.UI())
	}
	if err != nil {
		if errors.Is(err, archiver.ErrTargetDirectory) {
			return err
		}
		if summary != nil && summary.Total == 0 {
			return listingError(ctx, username, err)
		}
		if ctx.Err() != nil {
			return errors.New("interrupted")
		}
		return fmt.Errorf("run aborted: %w", err)
	}

	log.Info("run completed")
	return nil
}

func listingError(ctx context.Context, username string, err error) error {
	if ctx.Err() != nil {
		return errors.New("interrupted")
	}
	return fmt.Errorf("failed to list repositories of %s: %w", username, err)
}

func confirm(username string, repos []github.Repository) bool {
	lines := make([]ui.RepositoryLine, len(repos))
	for i, repo := range repos {
		lines[i] = ui.RepositoryLine{Name: repo.Name, Description: repo.Description}
	}
	ui.PrintInfo("Profile", github.GetUserProfileURL(username))
	ui.PrintRepositoryList(ui.Out, username, lines)
	return ui.Confirm(os.Stdin, ui.Out, "Do you want to continue?")
}

// resolveStoredToken fills in a token saved with --save-token
func resolveStoredToken(cfg *config.Config, log logger.Logger) {
	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Debug("token stores unavailable")
		return
	}
	token, source, err := manager.Token()
	if err != nil {
		log.Debug("no stored token, using anonymous API access")
		return
	}
	cfg.GitHub.Token = token
	log.DebugWithFields("using stored token", map[string]interface{}{
		"source": source,
		"token":  auth.MaskToken(token),
	})
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
