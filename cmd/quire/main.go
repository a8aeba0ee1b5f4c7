// cmd/quire/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"quire/client"
	"quire/internal/api"
	"quire/internal/app"
	"quire/internal/config"
	"quire/internal/logging"
	"quire/internal/revision"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type options struct {
	configPath  string
	repository  string
	server      string
	authorName  string
	authorEmail string
	verbose     bool
}

func (o *options) author() revision.Signature {
	return revision.Signature{Name: o.authorName, Email: o.authorEmail}
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.repository != "" {
		cfg.Repository = o.repository
	}
	if cfg.Repository == "" {
		cfg.Repository = "."
	}
	return cfg, nil
}

func (o *options) logger(cfg *config.Config) (*logging.Logger, error) {
	level := "warn"
	if o.verbose {
		level = cfg.LogLevel
	}
	return logging.NewLogger(level)
}

// open returns the page store the command works against: the server when
// --server is set, the local repository otherwise.
func (o *options) open() (api.PageStore, func() error, error) {
	if o.server != "" {
		return client.New(o.server), func() error { return nil }, nil
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := o.logger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	a, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		return nil, nil, err
	}
	return a.Store, a.Close, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "quire",
		Short: "Quire is a versioned page store backed by git",
		Long: `Quire keeps a tree of markdown pages in a git repository. Every write
is a commit, so every page can be read back at any revision.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.Path(), "Path to the TOML config file")
	flags.StringVarP(&opts.repository, "repo", "r", "", "Repository directory (overrides the config)")
	flags.StringVar(&opts.server, "server", "", "Talk to a quire server at this URL instead of a local repository")
	flags.StringVar(&opts.authorName, "author", api.DefaultAuthorName, "Commit author name")
	flags.StringVar(&opts.authorEmail, "email", api.DefaultAuthorEmail, "Commit author email")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at the configured level")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer logger.Sync()

			a, err := app.New(cfg, logger, app.Options{WatchReload: true, Seed: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving: %w", err)
			}
			return nil
		},
	}

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create a repository and its first page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err := opts.logger(cfg)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}

			a, err := app.New(cfg, logger, app.Options{Seed: true})
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			defer a.Close()

			fmt.Fprintln(out, "Initialized quire repository in", a.Store.Root())
			return nil
		},
	}

	var catCmd = &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, _ := cmd.Flags().GetString("rev")

			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			content, err := s.Load(args[0], rev)
			if err != nil {
				return err
			}
			fmt.Fprint(out, content)
			return nil
		},
	}
	catCmd.Flags().String("rev", "", "Read the page at this revision")

	var putCmd = &cobra.Command{
		Use:   "put <path>",
		Short: "Store a page from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			file, _ := cmd.Flags().GetString("file")

			var data []byte
			var err error
			if file != "" && file != "-" {
				data, err = os.ReadFile(file)
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}

			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			rev, err := s.Save(args[0], string(data), opts.author(), message)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rev)
			return nil
		},
	}
	putCmd.Flags().StringP("message", "m", "", "Commit message")
	putCmd.Flags().StringP("file", "f", "", "Read content from this file instead of stdin")

	var rmCmd = &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")

			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			rev, err := s.Delete(args[0], opts.author(), message)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rev)
			return nil
		},
	}
	rmCmd.Flags().StringP("message", "m", "", "Commit message")

	var mvCmd = &cobra.Command{
		Use:   "mv <from> <to>",
		Short: "Rename a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")

			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			rev, err := s.Rename(args[0], args[1], opts.author(), message)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rev)
			return nil
		},
	}
	mvCmd.Flags().StringP("message", "m", "", "Commit message")

	var lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List pages at the tip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			pages, err := s.ListPages()
			if err != nil {
				return err
			}
			for _, p := range pages {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}

	var historyCmd = &cobra.Command{
		Use:   "history <path>",
		Short: "Show the revisions that contain a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := s.PageHistory(args[0], limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			return nil
		},
	}
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of revisions (0 for all)")

	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show recent revisions with the files they touched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := s.Changelog(limit)
			if err != nil {
				return err
			}
			yellow := color.New(color.FgYellow).SprintFunc()
			for _, e := range entries {
				printEntry(out, e.Entry)
				for _, f := range e.Changed {
					fmt.Fprintf(out, "\t%s %s\n", yellow("M"), f)
				}
			}
			return nil
		},
	}
	logCmd.Flags().IntP("limit", "n", 20, "Maximum number of revisions (0 for all)")

	var diffCmd = &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Show the patch between two revisions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			patch, err := s.Diff(args[0], args[1])
			if err != nil {
				return err
			}
			printColoredDiff(out, patch)
			return nil
		},
	}

	var revertCmd = &cobra.Command{
		Use:   "revert <rev>",
		Short: "Commit the inverse of a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")

			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			rev, err := s.Revert(args[0], opts.author(), message)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rev)
			return nil
		},
	}
	revertCmd.Flags().StringP("message", "m", "", "Commit message")

	var blameCmd = &cobra.Command{
		Use:   "blame <path>",
		Short: "Show the revision that last changed each line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, _ := cmd.Flags().GetString("rev")

			s, closeStore, err := opts.open()
			if err != nil {
				return err
			}
			defer closeStore()

			lines, err := s.Blame(args[0], rev)
			if err != nil {
				return err
			}
			blue := color.New(color.FgBlue).SprintFunc()
			for _, l := range lines {
				fmt.Fprintf(out, "%s %-12s %4d  %s\n", blue(shortRev(l.Revision)), l.AuthorName, l.Line, l.Text)
			}
			return nil
		},
	}
	blameCmd.Flags().String("rev", "", "Blame the page at this revision")

	rootCmd.AddCommand(serveCmd, initCmd, catCmd, putCmd, rmCmd, mvCmd, lsCmd, historyCmd, logCmd, diffCmd, revertCmd, blameCmd)
	return rootCmd
}

func printEntry(out io.Writer, e revision.Entry) {
	blue := color.New(color.FgBlue).SprintFunc()

	fmt.Fprintf(out, "%s %s <%s> %s\n", blue(shortRev(e.Revision)), e.AuthorName, e.AuthorEmail,
		e.Datetime.Local().Format("2006-01-02 15:04"))
	if msg := strings.TrimSpace(e.Message); msg != "" {
		fmt.Fprintf(out, "    %s\n", msg)
	}
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

func printColoredDiff(out io.Writer, diff string) {
	// Create color objects
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	// Process diff line by line
	lines := strings.Split(strings.TrimSuffix(diff, "\n"), "\n")
	for _, line := range lines {
		if len(line) == 0 {
			fmt.Fprintln(out)
			continue
		}

		switch {
		case strings.HasPrefix(line, "@@"):
			header.Fprintln(out, line)
		case strings.HasPrefix(line, "+"):
			added.Fprintln(out, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprintln(out, line)
		default:
			fmt.Fprintln(out, line)
		}
	}
}

func main() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
