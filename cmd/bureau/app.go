package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureaulab/bureau/internal/broadcast"
	"github.com/bureaulab/bureau/internal/config"
	"github.com/bureaulab/bureau/internal/credential"
	"github.com/bureaulab/bureau/internal/delegation"
	"github.com/bureaulab/bureau/internal/department"
	"github.com/bureaulab/bureau/internal/llm"
	"github.com/bureaulab/bureau/internal/meeting"
	"github.com/bureaulab/bureau/internal/orchestrator"
	"github.com/bureaulab/bureau/internal/proc"
	"github.com/bureaulab/bureau/internal/runner"
	"github.com/bureaulab/bureau/internal/session"
	"github.com/bureaulab/bureau/internal/store"
	"github.com/bureaulab/bureau/internal/subtask"
	"github.com/bureaulab/bureau/internal/worktree"
	"github.com/bureaulab/bureau/pkg/models"
)

// app wires every collaborator for one process.
type app struct {
	cfg      *config.Config
	db       *store.DB
	logger   *slog.Logger
	registry *proc.Registry
	orch     *orchestrator.Orchestrator
	queue    *delegation.Queue
	meetings *meeting.Engine
	trees    *worktree.Manager
	router   *department.Router
	detector *department.Detector

	// lastMeeting tracks when each task last had a meeting convened, so the
	// serve loop does not re-run held meetings every poll.
	lastMeeting map[string]time.Time
}

// newApp opens the database and assembles the orchestration stack.
func newApp(logger *slog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(store.DefaultDBPath())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if err := syncDepartments(db, logger); err != nil {
		logger.Warn("department sync failed", "error", err)
	}

	bcast := broadcast.NewLogBroadcaster(logger)
	registry := proc.NewRegistry()
	sup := proc.NewSupervisor(registry, logger)
	cliRunner := runner.NewCLIRunner(sup, cfg.Timeouts.Idle, cfg.Timeouts.Hard, logger)
	pool := credential.NewPool(db, credential.PassthroughCipher{})
	httpRunner := runner.NewHTTPRunner(pool, registry, cfg.Defaults.APIBaseURL, logger)
	sessions := session.NewManager(db, logger)

	trees, err := worktree.NewManager(cfg.Worktree.BaseDir, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("worktree manager: %w", err)
	}

	departments, err := db.ListDepartments()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("list departments: %w", err)
	}
	detector := department.NewDetector(departments)
	router := department.NewRouter(db, detector, newPlanner(cfg), logger)
	tracker := subtask.NewTracker(db, router, bcast, logger)
	queue := delegation.NewQueue(db, bcast, logger)
	meetings := meeting.NewEngine(db, newPlanner(cfg), router, bcast, logger,
		cfg.Meeting.MaxActionItems, cfg.Meeting.MaxRevisionSignals)

	orch := orchestrator.New(db, registry, cliRunner, httpRunner, sessions, trees, tracker,
		bcast, logger,
		orchestrator.WithResumeDelay(cfg.Resume.MinDelay, cfg.Resume.MaxDelay),
		orchestrator.WithMeetings(meetings),
		orchestrator.WithDelegation(queue))

	// Dispatched children start executing as soon as the queue creates them.
	queue.SetOnDispatch(func(child *models.Task) {
		if _, err := orch.RunTask(context.Background(), child.ID); err != nil {
			logger.Warn("dispatched child did not start", "task_id", child.ID, "error", err)
		}
	})

	return &app{
		cfg:         cfg,
		db:          db,
		logger:      logger,
		registry:    registry,
		orch:        orch,
		queue:       queue,
		meetings:    meetings,
		trees:       trees,
		router:      router,
		detector:    detector,
		lastMeeting: make(map[string]time.Time),
	}, nil
}

func (a *app) close() {
	a.orch.Wait()
	a.db.Close()
}

// newPlanner builds the one-shot LLM collaborator used for re-routing and
// meeting turns. Without an API key every call reports a config error, which
// the callers treat as skip-not-guess.
func newPlanner(cfg *config.Config) llm.OneShot {
	key, err := config.GetAPIKey(cfg)
	if err != nil {
		return llm.OneShotFunc(func(ctx context.Context, system, prompt string) (string, error) {
			return "", config.ErrNoAPIKey
		})
	}
	client, err := llm.NewAnthropicClient(key, cfg.Anthropic.Model)
	if err != nil {
		return llm.OneShotFunc(func(ctx context.Context, system, prompt string) (string, error) {
			return "", err
		})
	}
	return client
}

// syncDepartments mirrors the departments YAML file into the database and
// makes sure each department has a team leader so routing and meetings have
// someone to address.
func syncDepartments(db *store.DB, logger *slog.Logger) error {
	entries, err := config.LoadDepartments(config.DefaultDepartmentsPath())
	if err != nil {
		return err
	}
	for _, entry := range entries {
		dept := &models.Department{
			ID:       entry.ID,
			Name:     entry.Name,
			Aliases:  entry.Aliases,
			Keywords: entry.Keywords,
		}
		if existing, err := db.GetDepartment(entry.ID); err == nil {
			dept.LeaderAgentID = existing.LeaderAgentID
			if err := db.UpdateDepartment(dept); err != nil {
				return err
			}
		} else if err := db.CreateDepartment(dept); err != nil {
			return err
		}
		if _, err := db.LeaderOf(entry.ID); err != nil {
			logger.Info("department has no team leader; routing to it will stay pending",
				"department_id", entry.ID)
		}
	}
	return nil
}
