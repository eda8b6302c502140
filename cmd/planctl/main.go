// Planctl - terminal client for the planforge service
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ashureev/planforge/internal/auth"
	"github.com/ashureev/planforge/internal/planapi"
	"github.com/ashureev/planforge/internal/plansession"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cmd := &cli.Command{
		Name:  "planctl",
		Usage: "plan an AI agent interactively and approve the result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				Usage:   "planforge server base URL",
				Sources: cli.EnvVars("PLANFORGE_SERVER"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token for the planforge API",
				Sources: cli.EnvVars("PLANFORGE_TOKEN"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "plan",
				Usage:     "run an interactive planning session",
				ArgsUsage: "<prompt>",
				Action:    runPlan,
			},
			{
				Name:      "generate",
				Usage:     "draft a plan in one shot, without clarification",
				ArgsUsage: "<prompt>",
				Action:    runGenerate,
			},
			{
				Name:   "plans",
				Usage:  "list approved plans",
				Action: runPlans,
			},
			{
				Name:   "agents",
				Usage:  "list agents created from approved plans",
				Action: runAgents,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func clientFor(cmd *cli.Command) (*planapi.Client, auth.TokenSource, string) {
	server := strings.TrimRight(cmd.String("server"), "/")
	tokens := auth.StaticTokenSource(cmd.String("token"))
	return planapi.NewClient(server, tokens), tokens, server
}

func wsURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		server = "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		server = "ws://" + strings.TrimPrefix(server, "http://")
	}
	return server + "/api/plan/ws/generate"
}

func runGenerate(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if prompt == "" {
		return errors.New("usage: planctl generate <prompt>")
	}

	client, _, _ := clientFor(cmd)
	plan, err := client.Generate(ctx, prompt)
	if err != nil {
		return err
	}

	fmt.Printf("== %s ==\n\n%s\n\nDocument: %s\n", plan.Title, plan.Content, plan.DocumentURL)
	return nil
}

func runPlans(ctx context.Context, cmd *cli.Command) error {
	client, _, _ := clientFor(cmd)
	plans, err := client.ListPlans(ctx)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Println("No approved plans yet.")
		return nil
	}
	for _, p := range plans {
		fmt.Printf("%s  %-10s  %s\n    %s\n", p.CreatedAt, p.Status, p.Title, p.DocumentURL)
	}
	return nil
}

func runAgents(ctx context.Context, cmd *cli.Command) error {
	client, _, _ := clientFor(cmd)
	agents, err := client.ListAgents(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents yet.")
		return nil
	}
	for _, a := range agents {
		fmt.Printf("%s  %-12s  %s\n    agent %s (plan %s)\n", a.CreatedAt, a.Status, a.Name, a.ID, a.PlanID)
	}
	return nil
}

func runPlan(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if prompt == "" {
		return errors.New("usage: planctl plan <prompt>")
	}

	client, tokens, server := clientFor(cmd)

	updates := make(chan plansession.Snapshot, 64)
	session := plansession.New(wsURL(server), tokens, plansession.WithNotify(func(s plansession.Snapshot) {
		select {
		case updates <- s:
		default:
		}
	}))
	defer session.Reset()

	if err := session.Start(ctx, prompt); err != nil {
		return err
	}
	fmt.Println("Starting plan session...")

	stdin := bufio.NewScanner(os.Stdin)
	ui := &sessionUI{}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		var snap plansession.Snapshot
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap = <-updates:
		case <-ticker.C:
			snap = session.Snapshot()
		}

		ui.render(snap)

		if snap.State == plansession.StateError {
			return errors.New(snap.Err)
		}

		if snap.ApprovalReady {
			return approvePlan(ctx, client, stdin, snap)
		}

		// Stale snapshots for a round that was just answered queue up behind
		// the answer; only prompt once per round.
		if len(snap.Pending) > 0 && (snap.Progress == nil || snap.Progress.Round != ui.answeredRound) {
			fmt.Print("> ")
			if !stdin.Scan() {
				return errors.New("input closed before the session finished")
			}
			answer := strings.TrimSpace(stdin.Text())
			if answer == "" {
				answer = "No preference, use your judgment."
			}
			if err := session.Answer(ctx, answer); err != nil {
				return err
			}
			if snap.Progress != nil {
				ui.answeredRound = snap.Progress.Round
			}
		}
	}
}

// sessionUI tracks what has already been printed so re-rendered snapshots
// stay quiet.
type sessionUI struct {
	version       int
	thinking      string
	questionKeys  map[string]bool
	answeredRound int
}

func (ui *sessionUI) render(snap plansession.Snapshot) {
	if ui.questionKeys == nil {
		ui.questionKeys = make(map[string]bool)
	}

	if snap.Thinking != nil && snap.Thinking.Message != ui.thinking {
		ui.thinking = snap.Thinking.Message
		fmt.Printf("... %s\n", snap.Thinking.Message)
	}

	if snap.Document != nil && snap.Document.Version > ui.version {
		ui.version = snap.Document.Version
		fmt.Printf("\n== %s (v%d) ==\n\n%s\n\n", snap.Document.Title, snap.Document.Version, snap.Document.Content)
	}

	for _, q := range snap.Pending {
		key := q.ID + "\x00" + q.Text
		if ui.questionKeys[key] {
			continue
		}
		ui.questionKeys[key] = true
		if snap.Progress != nil {
			fmt.Printf("[round %d/%d] %s\n", snap.Progress.Round, snap.Progress.MaxRounds, q.Text)
		} else {
			fmt.Printf("%s\n", q.Text)
		}
	}

	if snap.Err != "" && snap.State != plansession.StateError {
		fmt.Fprintf(os.Stderr, "warning: %s\n", snap.Err)
	}
}

func approvePlan(ctx context.Context, client *planapi.Client, stdin *bufio.Scanner, snap plansession.Snapshot) error {
	if snap.Document == nil {
		return errors.New("session finished without a document")
	}

	fmt.Print("The plan is ready. Approve it? [y/N] ")
	if !stdin.Scan() {
		return errors.New("input closed before approval")
	}
	if answer := strings.ToLower(strings.TrimSpace(stdin.Text())); answer != "y" && answer != "yes" {
		fmt.Println("Plan not approved.")
		return nil
	}

	resp, err := client.Approve(ctx, planapi.ApproveRequest{
		Title:   snap.Document.Title,
		Content: snap.Document.Content,
		Version: snap.Document.Version,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s\nAgent: %s\nDocument: %s\n", resp.Message, resp.AgentID, resp.DocumentURL)
	return nil
}
