package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tasks, agents, and meeting seats",
	Long: `Display the current state of the office.

Shows:
  - Active and queued tasks with their agents
  - Agent availability per department
  - Open subtasks blocked on other departments`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	dbPath := store.DefaultDBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No office database yet. Run 'bureau run <task>' to start.")
		return nil
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	tasks, err := db.ListTasksByStatus(
		models.TaskStatusInbox, models.TaskStatusPlanned, models.TaskStatusCollaborating,
		models.TaskStatusInProgress, models.TaskStatusReview, models.TaskStatusPending,
	)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	agents, err := db.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	fmt.Printf("Tasks (%d open)\n", len(tasks))
	if len(tasks) == 0 {
		fmt.Println("  none")
	}
	for _, t := range tasks {
		line := fmt.Sprintf("  [%s] %s", t.Status, t.Title)
		if t.AgentID != "" {
			line += " — " + agentName(agents, t.AgentID)
		}
		if t.StartedAt != nil {
			line += fmt.Sprintf(" (running %s)", time.Since(*t.StartedAt).Round(time.Second))
		}
		fmt.Println(line)

		subs, err := db.ListSubtasks(t.ID)
		if err != nil {
			continue
		}
		for _, s := range subs {
			if s.Status != models.SubtaskStatusBlocked {
				continue
			}
			fmt.Printf("      blocked: %s (%s)\n", s.Title, s.BlockedReason)
		}
	}

	fmt.Printf("\nAgents (%d)\n", len(agents))
	if len(agents) == 0 {
		fmt.Println("  none")
	}
	for _, a := range agents {
		line := fmt.Sprintf("  %-20s %-12s %-10s %s", a.Name, a.Role, a.Status, a.Provider)
		if a.CurrentTaskID != "" {
			line += " on " + a.CurrentTaskID
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
	return nil
}

func agentName(agents []*models.Agent, id string) string {
	for _, a := range agents {
		if a.ID == id {
			return a.Name
		}
	}
	return id
}
