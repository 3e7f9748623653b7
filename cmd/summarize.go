package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/skimmr/cli/pkg/api"
	"github.com/skimmr/cli/pkg/gateway"
	"github.com/skimmr/cli/pkg/util"
)

// TaskService defines the subset of the task gateway that the summarize
// commands use.
type TaskService interface {
	Execute(ctx context.Context, taskType string, data any) (*api.TaskResponse, error)
}

// SummarizeCmd handles summarization task submission.
type SummarizeCmd struct {
	tasks TaskService
}

// SummarizeInput holds input for one summarization task.
type SummarizeInput struct {
	TaskType string
	Subject  string
	Content  string
	Output   string
}

type summarizePayload struct {
	Subject string `json:"subject,omitempty"`
	Content string `json:"content"`
}

type summaryResult struct {
	Summary string `json:"summary"`
}

// Run submits the task and renders the result.
func (s SummarizeCmd) Run(ctx context.Context, in SummarizeInput) error {
	if in.Content == "" {
		return fmt.Errorf("nothing to summarize: content is empty")
	}

	resp, err := s.tasks.Execute(ctx, in.TaskType, summarizePayload{
		Subject: in.Subject,
		Content: in.Content,
	})
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrCredentialNotConfigured):
			pterm.Error.Println("Not logged in. Run 'skimmr auth login' first.")
		default:
			var rejected *gateway.CredentialRejectedError
			if errors.As(err, &rejected) {
				pterm.Error.Println("The server rejected your credential. Run 'skimmr auth login' again.")
			} else {
				pterm.Error.Printf("Summarization failed: %v\n", err)
			}
		}
		return err
	}

	if in.Output == "json" {
		return util.PrintPrettyJSON(resp)
	}

	var result summaryResult
	if json.Unmarshal(resp.Result, &result) == nil && result.Summary != "" {
		pterm.Println()
		pterm.Println(result.Summary)
		pterm.Println()
		return nil
	}
	return util.PrintPrettyJSON(resp)
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize an email or chat thread via the Skimmr service",
}

var summarizeEmailCmd = &cobra.Command{
	Use:   "email [file]",
	Short: "Summarize an email (from a file or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSummarizeEmail,
}

var summarizeChatCmd = &cobra.Command{
	Use:   "chat [file]",
	Short: "Summarize a chat thread (from a file or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSummarizeChat,
}

func init() {
	summarizeEmailCmd.Flags().StringP("subject", "s", "", "Email subject line")
	summarizeEmailCmd.Flags().StringP("output", "o", "", "Output format (json)")
	summarizeChatCmd.Flags().StringP("output", "o", "", "Output format (json)")
	summarizeCmd.AddCommand(summarizeEmailCmd, summarizeChatCmd)
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarizeEmail(cmd *cobra.Command, args []string) error {
	return runSummarize(cmd, args, gateway.TaskSummarizeEmail)
}

func runSummarizeChat(cmd *cobra.Command, args []string) error {
	return runSummarize(cmd, args, gateway.TaskSummarizeChat)
}

func runSummarize(cmd *cobra.Command, args []string, taskType string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	subject, _ := cmd.Flags().GetString("subject")

	content, err := readContent(args)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	rt.session.LoadPersistedSession(cmd.Context())

	s := SummarizeCmd{tasks: rt.gateway}
	return s.Run(cmd.Context(), SummarizeInput{
		TaskType: taskType,
		Subject:  subject,
		Content:  content,
		Output:   output,
	})
}

// readContent reads from the file argument, or stdin when the argument is
// absent or "-".
func readContent(args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
