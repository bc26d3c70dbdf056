package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"assessment-sync/internal/attempt"
	"assessment-sync/internal/config"
	"assessment-sync/internal/domain"
	"assessment-sync/internal/logger"
	"assessment-sync/internal/progress"
)

const takeHelp = `commands:
  a <answer>   answer the current question (ids comma separated for multi-select and ordering)
  n / p        next / previous question
  g <number>   go to question
  r            review answered and unanswered questions
  b            back to answering from review
  t            time remaining
  s            submit
  q            quit (pending answers are kept for next time)`

// NewTakeCmd runs an interactive, line-based quiz attempt against a server.
func NewTakeCmd(configPath *string) *cobra.Command {
	flags := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "take <quizID>",
		Short: "Take a quiz from the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.user == "" {
				return fmt.Errorf("--user is required")
			}
			return runTake(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), *configPath, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.user, "user", "", "user id taking the quiz")
	cmd.Flags().StringVar(&flags.token, "token", "", "bearer token (or ASSESSMENT_TOKEN)")
	return cmd
}

func runTake(ctx context.Context, in io.Reader, out io.Writer, configPath, quizID string, flags *clientFlags) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logr, err := logger.New(cfg.Env)
	if err != nil {
		return err
	}
	defer logr.Sync()

	token, err := flags.resolveToken(cfg)
	if err != nil {
		return err
	}
	mirror, closeMirror, err := openMirror(cfg)
	if err != nil {
		return err
	}
	defer closeMirror()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := newHTTPClient(cfg, token, logr)
	registry := progress.NewRegistry(client, mirror, syncConfig(cfg), progress.WithRegistryLogger(logr))
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), config.Duration(cfg.Sync.RequestTimeout, 10*time.Second))
		defer scancel()
		for subject, outcome := range registry.Shutdown(sctx) {
			logr.Info("progress shut down", zap.String("subject_id", subject), zap.String("outcome", string(outcome)))
		}
	}()

	monitor := progress.NewConnectivityMonitor(client, registry,
		config.Duration(cfg.Sync.OfflineRetry, progress.DefaultProbeInterval), nil, logr)
	go monitor.Run(ctx)

	m := attempt.NewMachine(quizID, flags.user, client, registry, attempt.Config{
		AutosaveInterval: config.Duration(cfg.Client.Autosave, 30*time.Second),
	}, attempt.WithLogger(logr))
	go printEvents(ctx, out, m.Events())

	if err := m.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, takeHelp)
	printQuestion(out, m)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		quit, err := handleLine(ctx, out, m, strings.TrimSpace(scanner.Text()))
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			break
		}
	}

	if _, done := m.Result(); !done {
		outcome := m.Close()
		logr.Info("attempt left open", zap.String("outcome", string(outcome)))
	}
	return scanner.Err()
}

func handleLine(ctx context.Context, out io.Writer, m *attempt.Machine, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		return false, nil
	case "a":
		questions := m.Questions()
		idx := m.State().QuestionIndex
		if idx < 0 || idx >= len(questions) {
			return false, fmt.Errorf("no current question")
		}
		value, err := parseAnswer(questions[idx], arg)
		if err != nil {
			return false, err
		}
		return false, m.Answer(questions[idx].ID, value)
	case "n":
		if _, err := m.Next(); err != nil {
			return false, err
		}
		printQuestion(out, m)
	case "p":
		if _, err := m.Prev(); err != nil {
			return false, err
		}
		printQuestion(out, m)
	case "g":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("question number expected")
		}
		if _, err := m.GoToQuestion(n - 1); err != nil {
			return false, err
		}
		printQuestion(out, m)
	case "r":
		rows, err := m.OpenReview()
		if err != nil {
			return false, err
		}
		for _, row := range rows {
			mark := " "
			if row.Answered {
				mark = "x"
			}
			fmt.Fprintf(out, "[%s] %d. %s\n", mark, row.Index+1, row.QuestionID)
		}
	case "b":
		if err := m.ResumeAnswering(); err != nil {
			return false, err
		}
		printQuestion(out, m)
	case "t":
		fmt.Fprintf(out, "%s remaining\n", m.Remaining().Round(time.Second))
	case "s":
		result, err := m.Submit(ctx)
		if err != nil {
			return false, err
		}
		printResult(out, result)
		return true, nil
	case "q":
		return true, nil
	default:
		fmt.Fprintln(out, takeHelp)
	}
	return false, nil
}

// parseAnswer reads a typed answer for q from terminal input.
func parseAnswer(q domain.Question, raw string) (domain.AnswerValue, error) {
	if raw == "" {
		return domain.AnswerValue{}, fmt.Errorf("empty answer")
	}
	switch q.Type {
	case domain.QuestionMultiSelect:
		return domain.Choices(splitIDs(raw)...), nil
	case domain.QuestionOrdering:
		return domain.Ordering(splitIDs(raw)...), nil
	case domain.QuestionShortAnswer, domain.QuestionEssay:
		return domain.FreeText(raw), nil
	default:
		for _, opt := range q.Options {
			if opt.ID == raw {
				return domain.Choice(raw), nil
			}
		}
		return domain.AnswerValue{}, fmt.Errorf("unknown option %q", raw)
	}
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

func printQuestion(out io.Writer, m *attempt.Machine) {
	questions := m.Questions()
	idx := m.State().QuestionIndex
	if idx < 0 || idx >= len(questions) {
		return
	}
	q := questions[idx]
	fmt.Fprintf(out, "\n%d/%d  %s\n", idx+1, len(questions), q.Prompt)
	for _, opt := range q.Options {
		fmt.Fprintf(out, "  %s) %s\n", opt.ID, opt.Text)
	}
}

func printResult(out io.Writer, r domain.ScoreResult) {
	verdict := "not passed"
	if r.Passed {
		verdict = "passed"
	}
	fmt.Fprintf(out, "score %.1f/%.1f (%.1f%%), %s\n", r.EarnedPoints, r.TotalPoints, r.Percent, verdict)
	for _, row := range r.Breakdown {
		if !row.Correct && row.CorrectAnswer != nil {
			fmt.Fprintf(out, "  %s: correct answer %s\n", row.QuestionID, row.CorrectAnswer)
		}
	}
	if r.CanRetake {
		fmt.Fprintln(out, "you can retake this quiz")
	}
}

func printEvents(ctx context.Context, out io.Writer, events <-chan attempt.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case attempt.EventTimeWarning:
				fmt.Fprintf(out, "\n%s left\n", ev.Remaining.Round(time.Second))
			case attempt.EventTimeUp:
				fmt.Fprintln(out, "\ntime is up, submitting")
			case attempt.EventIncomplete:
				fmt.Fprintf(out, "\nunanswered: %s\n", strings.Join(ev.Unanswered, ", "))
			case attempt.EventSubmitted:
				if ev.Result != nil {
					printResult(out, *ev.Result)
				}
			case attempt.EventSubmitFailed:
				fmt.Fprintf(out, "\nsubmission failed: %v (type s to retry)\n", ev.Err)
			}
		}
	}
}
