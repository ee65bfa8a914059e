package crawlcli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gudagent/internal/knowledge"

	"github.com/fatih/color"
)

const boxWidth = 41

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
	dimColor   = color.New(color.Faint)
)

func boxLine(w io.Writer, left, fill, right string) {
	fmt.Fprintf(w, "  %s%s%s\n", left, strings.Repeat(fill, boxWidth), right)
}

func boxRow(w io.Writer, text string) {
	pad := boxWidth - 2 - len([]rune(text))
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(w, "  │  %s%s│\n", text, strings.Repeat(" ", pad))
}

func boxTitle(w io.Writer, title string) {
	pad := boxWidth - 2 - len([]rune(title))
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(w, "  │  %s%s│\n", titleColor.Sprint(title), strings.Repeat(" ", pad))
}

func printBanner(w io.Writer) {
	fmt.Fprintln(w)
	boxLine(w, "┌", "─", "┐")
	boxTitle(w, binaryName)
	boxRow(w, "Generate a knowledge base from your site")
	boxLine(w, "└", "─", "┘")
	fmt.Fprintln(w)
}

type crawlSummary struct {
	Pages   int
	Words   int
	Elapsed time.Duration
	Output  string
}

func printCrawlSummary(w io.Writer, s crawlSummary) {
	output := s.Output
	if r := []rune(output); len(r) > 25 {
		output = "..." + string(r[len(r)-22:])
	}
	fmt.Fprintln(w)
	boxLine(w, "┌", "─", "┐")
	boxTitle(w, "Crawl complete!")
	boxLine(w, "├", "─", "┤")
	boxRow(w, fmt.Sprintf("Pages crawled: %-22d", s.Pages))
	boxRow(w, fmt.Sprintf("Word count:    %-22d", s.Words))
	boxRow(w, fmt.Sprintf("Time:          %-22s", fmt.Sprintf("%.1fs", s.Elapsed.Seconds())))
	boxRow(w, fmt.Sprintf("Output:        %-22s", output))
	boxLine(w, "└", "─", "┘")
}

func printSyncFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "\n  %s %v\n", errColor.Sprint("GudDesk sync failed:"), err)
	fmt.Fprintln(w, "  Make sure GUDDESK_URL and GUDDESK_API_KEY are set correctly.")
}

func printOutcome(w io.Writer, o knowledge.ArticleOutcome) {
	switch o.Action {
	case knowledge.ActionCreated:
		label := "Created"
		if o.Suffixed {
			label = "Created (suffixed)"
		}
		fmt.Fprintf(w, "    %s %s: %s\n", okColor.Sprint("+"), label, o.Title)
	case knowledge.ActionUpdated:
		fmt.Fprintf(w, "    %s Updated: %s\n", okColor.Sprint("~"), o.Title)
	default:
		reason := "no usable slug"
		if o.Err != nil {
			reason = o.Err.Error()
		}
		fmt.Fprintf(w, "    %s Skipped: %s (%s)\n", warnColor.Sprint("!"), o.Title, reason)
	}
}

func printSyncSummary(w io.Writer, r knowledge.SyncReport, publish bool) {
	status := "Draft"
	if publish {
		status = "Published"
	}
	fmt.Fprintln(w)
	boxLine(w, "┌", "─", "┐")
	boxTitle(w, "GudDesk KB sync complete!")
	boxLine(w, "├", "─", "┤")
	boxRow(w, fmt.Sprintf("Created:  %-27d", r.Created))
	boxRow(w, fmt.Sprintf("Updated:  %-27d", r.Updated))
	boxRow(w, fmt.Sprintf("Skipped:  %-27d", r.Skipped))
	boxRow(w, fmt.Sprintf("Status:   %-27s", status))
	boxLine(w, "└", "─", "┘")
}

func printNextSteps(w io.Writer, output string, synced bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Next steps:")
	step := 1
	fmt.Fprintf(w, "  %d. Review %s\n", step, output)
	step++
	if !synced {
		fmt.Fprintf(w, "  %d. Run: crawl <url> --sync --publish  %s\n", step, dimColor.Sprint("(to push to GudDesk KB)"))
		step++
	}
	fmt.Fprintf(w, "  %d. Start the agent: it loads the knowledge base on boot\n", step)
	fmt.Fprintln(w)
}
