package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/sunday/internal/api"
	"github.com/kalambet/sunday/internal/attach"
	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/config"
	"github.com/kalambet/sunday/internal/storage"
	"github.com/kalambet/sunday/internal/turn"
)

// --- ask / rewrite / retry / cancel ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question and stream the answer",
	Long: `Ask a question and stream the answer.

Examples:
  sunday ask "What is the capital of France?"
  sunday ask --thread 0f8c... "And of Spain?"
  sunday ask --file ./report.pdf "Summarize this report"
  sunday ask "Any unread emails from Anna?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")
		mode, _ := cmd.Flags().GetString("mode")
		text, _ := cmd.Flags().GetString("context")
		file, _ := cmd.Flags().GetString("file")

		req, err := buildAnswerRequest(strings.Join(args, " "), mode, text, file)
		if err != nil {
			return err
		}
		if threadID == "" {
			threadID = uuid.New().String()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runStreamed(cmd.Context(), client, threadID, "answer", req)
	},
}

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Regenerate the last answer of a thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := requiredThread(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runStreamed(cmd.Context(), client, threadID, "rewrite", nil)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry the last failed request of a thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := requiredThread(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runStreamed(cmd.Context(), client, threadID, "retry", nil)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the operation running on a thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, err := requiredThread(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), threadPath(threadID, "cancel"), nil)
		if err != nil {
			return err
		}
		if err := expectNoContent(resp); err != nil {
			return err
		}
		printSuccess("Cancel requested")
		return nil
	},
}

func init() {
	askCmd.Flags().String("thread", "", "thread to continue (default: start a new thread)")
	askCmd.Flags().String("mode", string(chat.ModeChat), "answer mode: chat or image")
	askCmd.Flags().String("context", "", "extra context text for the first answer")
	askCmd.Flags().String("file", "", "read extra context from a text, HTML or PDF file")

	for _, c := range []*cobra.Command{rewriteCmd, retryCmd, cancelCmd} {
		c.Flags().String("thread", "", "thread ID")
	}
}

func requiredThread(cmd *cobra.Command) (string, error) {
	id, _ := cmd.Flags().GetString("thread")
	if id == "" {
		return "", fmt.Errorf("--thread is required")
	}
	return id, nil
}

func threadPath(threadID string, parts ...string) string {
	p := "/threads/" + url.PathEscape(threadID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func buildAnswerRequest(question, mode, text, file string) (api.AnswerRequest, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return api.AnswerRequest{}, fmt.Errorf("question must not be empty")
	}
	m := chat.Mode(mode)
	if m != chat.ModeChat && m != chat.ModeImage {
		return api.AnswerRequest{}, fmt.Errorf("unknown mode %q (want chat or image)", mode)
	}
	if file != "" {
		extracted, err := attach.ExtractText(file)
		if err != nil {
			return api.AnswerRequest{}, fmt.Errorf("reading %s: %w", file, err)
		}
		if text != "" {
			text += "\n\n"
		}
		text += extracted
	}
	return api.AnswerRequest{Question: question, Mode: m, Context: text}, nil
}

// runStreamed runs an operation and prints the answer as it grows. The first
// interrupt asks the server to cancel, which keeps the partial answer; the
// stream then ends with the cancelled result.
func runStreamed(ctx context.Context, client *apiClient, threadID, op string, body any) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCtx.Done():
		case <-done:
			return
		}
		// A second interrupt terminates the process.
		stop()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if resp, err := client.post(cctx, threadPath(threadID, "cancel"), nil); err == nil {
			resp.Body.Close()
		}
	}()

	p := &answerPrinter{}
	res, err := client.stream(context.WithoutCancel(ctx), threadPath(threadID, op), body, p.update)
	p.finish()
	if err != nil {
		return err
	}
	return printOutcome(threadID, res)
}

// answerPrinter writes the part of each answer snapshot not yet printed.
type answerPrinter struct {
	printed string
}

func (p *answerPrinter) update(u turn.Update) {
	if u.Kind != turn.UpdateAnswer {
		return
	}
	if strings.HasPrefix(u.Answer, p.printed) {
		fmt.Fprint(stdout, u.Answer[len(p.printed):])
	} else {
		fmt.Fprint(stdout, "\n"+u.Answer)
	}
	p.printed = u.Answer
}

func (p *answerPrinter) finish() {
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(stdout)
	}
}

// --- threads ---

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List, show or delete threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threads, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/threads?limit=%d", limit))
		if err != nil {
			return err
		}

		var threads []storage.ThreadSummary
		if err := decodeJSON(resp, &threads); err != nil {
			return err
		}

		if len(threads) == 0 {
			printStep("No threads yet")
			return nil
		}
		for _, t := range threads {
			title := t.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(stdout, "%s  %s  %s  %d turn(s)\n",
				colorize(colorBold, t.ID), t.UpdatedAt.Local().Format("2006-01-02 15:04"), title, t.Turns)
		}
		return nil
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a thread's questions and answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), threadPath(args[0]))
		if err != nil {
			return err
		}

		var t chat.Thread
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		}
		for i, c := range t.Chats {
			fmt.Fprintf(stdout, "%s %s\n", colorize(colorCyan, fmt.Sprintf("[%d] Q:", i+1)), c.Question)
			fmt.Fprintf(stdout, "%s %s\n\n", colorize(colorGreen, "    A:"), c.Answer)
		}
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), threadPath(args[0]))
		if err != nil {
			return err
		}
		if err := expectNoContent(resp); err != nil {
			return err
		}
		printSuccess("Deleted thread %s", args[0])
		return nil
	},
}

func init() {
	threadsListCmd.Flags().Int("limit", 20, "maximum number of threads to list")
	threadsShowCmd.Flags().Bool("json", false, "print the full thread as JSON")
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsShowCmd)
	threadsCmd.AddCommand(threadsDeleteCmd)
}

// --- gmail ---

var gmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Link or unlink your Gmail account",
}

var gmailLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link Gmail with an OAuth access token",
	Long: `Link Gmail with an OAuth access token.

The token is read from --token, or from stdin when --token is "-".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "-" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading token from stdin: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return fmt.Errorf("--token is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/integrations/gmail", api.IntegrationRequest{AccessToken: token})
		if err != nil {
			return err
		}
		if err := expectNoContent(resp); err != nil {
			return err
		}
		printSuccess("Gmail linked")
		return nil
	},
}

var gmailUnlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Remove the stored Gmail token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/integrations/gmail")
		if err != nil {
			return err
		}
		if err := expectNoContent(resp); err != nil {
			return err
		}
		printSuccess("Gmail unlinked")
		return nil
	},
}

var gmailStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether Gmail is linked",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/integrations/gmail")
		if err != nil {
			return err
		}
		var st api.IntegrationStatus
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		if !st.Linked || st.UpdatedAt == nil {
			printStatus("Gmail", "not linked")
			return nil
		}
		printStatus("Gmail", "linked (updated %s)", st.UpdatedAt.Local().Format(time.RFC822))
		return nil
	},
}

func init() {
	gmailLinkCmd.Flags().String("token", "", `OAuth access token, or "-" to read it from stdin`)
	gmailCmd.AddCommand(gmailLinkCmd)
	gmailCmd.AddCommand(gmailUnlinkCmd)
	gmailCmd.AddCommand(gmailStatusCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
