package crawlcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gudagent/internal/guddesk"
	"gudagent/internal/knowledge"
	"gudagent/pkg/config"
	"gudagent/pkg/logging"
	"gudagent/pkg/version"

	"github.com/spf13/cobra"
)

const (
	binaryName    = "gud-agent crawl"
	defaultOutput = "knowledge/base.md"
)

const examples = `  crawl https://acme.com
  crawl https://acme.com --max-pages 50
  crawl https://acme.com --exclude "/blog,/careers" --max-pages 30
  crawl https://acme.com --sync --publish`

// usageError marks failures caused by bad input; the usage text is printed
// after the message.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

type options struct {
	maxPages  int
	output    string
	exclude   string
	delayMS   int
	userAgent string
	sync      bool
	publish   bool
	verbose   bool
}

// StoreFactory builds the article store used by --sync.
type StoreFactory func(logger logging.Logger) (knowledge.ArticleStore, error)

// App carries the collaborators the crawl command needs. The zero value is
// not usable; start from NewApp.
type App struct {
	NewStore    StoreFactory
	CrawlerOpts []knowledge.CrawlerOption
	Now         func() time.Time
}

func NewApp() *App {
	return &App{NewStore: envStore, Now: time.Now}
}

func envStore(logger logging.Logger) (knowledge.ArticleStore, error) {
	client, err := guddesk.NewClient(guddesk.Config{
		BaseURL: config.GetEnv("GUDDESK_URL", ""),
		APIKey:  config.GetEnv("GUDDESK_API_KEY", ""),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewRootCmd returns the crawl command.
func NewRootCmd(app *App) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:     "crawl <url>",
		Short:   "Generate a knowledge base from your website",
		Long:    "gud-agent crawl: generate a knowledge base from your website.\n\nCrawls same-origin pages, extracts the readable content and writes a single\nmarkdown file the agent can search. With --sync the pages are also pushed to\nthe GudDesk knowledge base as articles.",
		Example: examples,
		Version: version.Version,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 1 {
				return usageError{msg: fmt.Sprintf("expected a single URL, got %d arguments", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return app.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], *opts)
		},
	}
	cmd.SetVersionTemplate(version.String(binaryName) + "\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		msg := err.Error()
		if name, ok := strings.CutPrefix(msg, "unknown flag: "); ok {
			msg = "Unknown option: " + name
		}
		return usageError{msg: msg}
	})

	f := cmd.Flags()
	f.IntVar(&opts.maxPages, "max-pages", knowledge.DefaultMaxPages, "Maximum pages to crawl")
	f.StringVar(&opts.output, "output", defaultOutput, "Output file path")
	f.StringVar(&opts.exclude, "exclude", "", `Comma-separated paths to exclude (e.g. "/blog,/docs")`)
	f.IntVar(&opts.delayMS, "delay", int(knowledge.DefaultDelay/time.Millisecond), "Delay between requests in ms")
	f.StringVar(&opts.userAgent, "user-agent", config.GetEnv("CRAWL_USER_AGENT", knowledge.DefaultUserAgent), "User-Agent header sent with every request")
	f.BoolVar(&opts.sync, "sync", false, "Push crawled pages to the GudDesk knowledge base as articles")
	f.BoolVar(&opts.publish, "publish", false, "Publish articles when syncing (default: draft)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log every page to stderr")
	return cmd
}

// Execute runs the crawl command and returns the process exit code.
func Execute(ctx context.Context, app *App, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(app)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var silent silentExit
	if errors.As(err, &silent) {
		return 1
	}
	var uerr usageError
	if errors.As(err, &uerr) {
		fmt.Fprintf(stderr, "Error: %s\n\n", uerr.msg)
		fmt.Fprint(stderr, cmd.UsageString())
		return 1
	}
	fmt.Fprintf(stderr, "Crawl failed: %v\n", err)
	return 1
}

var errNoPages = errors.New("no pages")

func validate(rawURL string, opts options) (knowledge.CrawlOptions, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return knowledge.CrawlOptions{}, usageError{msg: fmt.Sprintf("%q is not a valid URL. Include the protocol (https://)", rawURL)}
	}
	if opts.maxPages < 1 {
		return knowledge.CrawlOptions{}, usageError{msg: "--max-pages must be a positive number"}
	}
	if opts.delayMS < 0 {
		return knowledge.CrawlOptions{}, usageError{msg: "--delay must be a non-negative number"}
	}
	return knowledge.CrawlOptions{
		MaxPages: opts.maxPages,
		Exclude:  config.SplitList(opts.exclude),
		Delay:    time.Duration(opts.delayMS) * time.Millisecond,
	}, nil
}

func (a *App) run(ctx context.Context, stdout, stderr io.Writer, rawURL string, opts options) error {
	crawlOpts, err := validate(rawURL, opts)
	if err != nil {
		return err
	}
	logger := logging.NewCLILogger(stderr, opts.verbose)

	printBanner(stdout)
	start := a.Now()

	crawlerOpts := []knowledge.CrawlerOption{knowledge.WithLogger(logger), knowledge.WithUserAgent(opts.userAgent)}
	crawler := knowledge.NewCrawler(append(crawlerOpts, a.CrawlerOpts...)...)
	report, err := crawler.Crawl(ctx, rawURL, crawlOpts)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Warnf("Interrupted; keeping the %d page(s) crawled so far", len(report.Pages))
	}
	logger.WithFields(logging.Fields{
		"accepted":     report.Counts.Accepted,
		"rejected":     report.Counts.Rejected(),
		"http_status":  report.Counts.HTTPStatus,
		"no_content":   report.Counts.NoContent,
		"fetch_errors": report.Counts.FetchError,
	}).Debug("Crawl finished")

	if len(report.Pages) == 0 {
		fmt.Fprintln(stderr, "No pages with extractable content were found.")
		fmt.Fprintln(stderr, "Make sure the URL is correct and the site is accessible.")
		return silentExit{errNoPages}
	}

	markdown := knowledge.GenerateMarkdown(report.Pages, rawURL, a.Now())
	output, err := writeOutput(opts.output, markdown)
	if err != nil {
		return err
	}

	printCrawlSummary(stdout, crawlSummary{
		Pages:   len(report.Pages),
		Words:   len(strings.Fields(markdown)),
		Elapsed: a.Now().Sub(start),
		Output:  output,
	})

	if opts.sync {
		a.sync(ctx, stdout, stderr, logger, report.Pages, opts.publish)
	}
	printNextSteps(stdout, output, opts.sync)
	return nil
}

// silentExit fails the command without an extra error line.
type silentExit struct{ err error }

func (e silentExit) Error() string { return e.err.Error() }
func (e silentExit) Unwrap() error { return e.err }

func writeOutput(path, markdown string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", abs, err)
	}
	return abs, nil
}

func (a *App) sync(ctx context.Context, stdout, stderr io.Writer, logger logging.Logger, pages []knowledge.Page, publish bool) {
	store, err := a.NewStore(logger)
	if err != nil {
		printSyncFailure(stderr, err)
		return
	}
	fmt.Fprintln(stdout, "\n  Syncing to GudDesk knowledge base...")
	fmt.Fprintln(stdout)

	report := knowledge.NewSyncer(store, logger).Sync(ctx, pages, publish)
	for _, o := range report.Outcomes {
		printOutcome(stdout, o)
	}
	printSyncSummary(stdout, report, publish)
}
