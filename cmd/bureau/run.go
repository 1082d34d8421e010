package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bureaulab/bureau/pkg/models"
)

var (
	runAgentID     string
	runDescription string
	runProjectPath string
	runDetach      bool
)

var runCmd = &cobra.Command{
	Use:   "run <title>",
	Short: "Create a task and execute it",
	Long: `Create a task and execute it with an agent.

The task's department is detected from its text; unless --agent is given,
the detected department's team leader executes it. The command waits for the
run to finish unless --detach is set.

Examples:
  bureau run "Fix the login redirect loop"
  bureau run "Provision staging" --agent lead-infra
  bureau run "Refactor billing" --description "Split invoice generation out" --detach`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAgentID, "agent", "", "Agent id to execute with")
	runCmd.Flags().StringVarP(&runDescription, "description", "d", "", "Task description")
	runCmd.Flags().StringVar(&runProjectPath, "project", "", "Project path (default: current directory)")
	runCmd.Flags().BoolVar(&runDetach, "detach", false, "Do not wait for the run to finish")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newConsoleLogger()
	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer a.close()

	projectPath := runProjectPath
	if projectPath == "" {
		if projectPath, err = os.Getwd(); err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	title := strings.Join(args, " ")
	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: runDescription,
		Status:      models.TaskStatusInbox,
		ProjectPath: projectPath,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	agentID := runAgentID
	if agentID == "" {
		deptID := a.detector.Detect(title+" "+runDescription, "")
		if deptID == "" {
			return fmt.Errorf("no department matched %q; pass --agent", title)
		}
		leader, err := a.db.LeaderOf(deptID)
		if err != nil {
			return fmt.Errorf("department %s has no team leader; pass --agent", deptID)
		}
		task.DepartmentID = deptID
		agentID = leader.ID
	}
	task.AgentID = agentID

	if err := a.db.CreateTask(task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	ctx := context.Background()
	res, err := a.orch.SpawnForAgent(ctx, agentID, task.ID)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	fmt.Printf("Task %s started (agent %s, pid %d)\n", task.ID, agentID, res.PID)
	if res.Worktree != "" {
		fmt.Printf("Worktree: %s\n", res.Worktree)
	}
	if res.LogPath != "" {
		fmt.Printf("Log: %s\n", res.LogPath)
	}
	if runDetach {
		return nil
	}

	final := waitForTask(a, task.ID)
	fmt.Printf("Task finished: %s\n", final.Status)
	if final.Error != "" {
		fmt.Printf("Error: %s\n", final.Error)
	}
	if final.Status == models.TaskStatusFailed {
		return fmt.Errorf("task %s failed", task.ID)
	}
	return nil
}

// waitForTask polls until the task leaves its executing states.
func waitForTask(a *app, taskID string) *models.Task {
	for {
		time.Sleep(500 * time.Millisecond)
		task, err := a.db.GetTask(taskID)
		if err != nil {
			continue
		}
		switch task.Status {
		case models.TaskStatusInProgress, models.TaskStatusCollaborating:
			continue
		default:
			return task
		}
	}
}
