package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/internal/config"
	internal_http "github.com/gmaisuradze-adm/it-asset-management-sub001/internal/http"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/internal/log"
	internal_storage "github.com/gmaisuradze-adm/it-asset-management-sub001/internal/storage"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/engine"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/eventbus"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/integration"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/notify"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/subscription"
)

// app bundles the wired orchestration core shared by every command.
type app struct {
	store       storage.Store
	planner     *engine.StaticPlanner
	engine      *engine.Engine
	bus         *eventbus.Bus
	registry    *subscription.Registry
	dispatcher  *notify.Dispatcher
	coordinator *integration.Coordinator
}

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (overrides configuration)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server with the backlog poller",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.LoadConfig()
			if err != nil {
				log.GetLogger().Errorf("Failed to load configuration: %v", err)
				os.Exit(1)
			}
			connStr, _ := cmd.Flags().GetString("db")
			if connStr == "" {
				connStr = cfg.ConnString()
			}
			store := initStore(connStr)
			defer store.Close()
			a := buildApp(store)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			a.bus.Start(ctx)
			defer a.bus.Stop()
			go a.bus.RunPoller(ctx, cfg.Events.PollInterval, cfg.Events.BatchSize)

			server := internal_http.NewServer(a.engine, a.bus, a.registry, a.coordinator)
			if err := server.Start(cfg.HTTP.Port); err != nil {
				log.GetLogger().Errorf("Server stopped: %v", err)
				os.Exit(1)
			}
		},
	}

	executeCmd := &cobra.Command{
		Use:   "execute [workflow-type]",
		Short: "Execute a workflow to completion",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			userID, _ := cmd.Flags().GetString("user")
			configRaw, _ := cmd.Flags().GetString("config")
			withApp(cmd, func(ctx context.Context, a *app) {
				executeWorkflow(ctx, a, args[0], userID, configRaw)
			})
		},
	}
	executeCmd.Flags().String("user", "cli", "User id to attribute the workflow to")
	executeCmd.Flags().String("config", "", "Workflow configuration as a JSON object")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflow instances",
		Run: func(cmd *cobra.Command, args []string) {
			withApp(cmd, func(ctx context.Context, a *app) {
				listWorkflows(a)
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Show the status of a workflow instance",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withApp(cmd, func(ctx context.Context, a *app) {
				showStatus(ctx, a, args[0])
			})
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [workflow-id]",
		Short: "Cancel a running workflow instance",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			userID, _ := cmd.Flags().GetString("user")
			withApp(cmd, func(ctx context.Context, a *app) {
				cancelWorkflow(ctx, a, args[0], userID)
			})
		},
	}
	cancelCmd.Flags().String("user", "cli", "User id cancelling the workflow")

	resumeCmd := &cobra.Command{
		Use:   "resume [workflow-id]",
		Short: "Resume a cancelled workflow instance",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withApp(cmd, func(ctx context.Context, a *app) {
				resumeWorkflow(ctx, a, args[0])
			})
		},
	}

	processEventsCmd := &cobra.Command{
		Use:   "process-events",
		Short: "Process the pending event backlog once",
		Run: func(cmd *cobra.Command, args []string) {
			batchSize, _ := cmd.Flags().GetInt("batch-size")
			withApp(cmd, func(ctx context.Context, a *app) {
				processEvents(ctx, a, batchSize)
			})
		},
	}
	processEventsCmd.Flags().Int("batch-size", 50, "Maximum events to claim in one pass")

	rootCmd.AddCommand(serveCmd, executeCmd, listCmd, statusCmd, cancelCmd, resumeCmd, processEventsCmd)
}

// withApp runs fn against a wired core backed by the --db store.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app)) {
	connStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	if connStr == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.GetLogger().Errorf("Failed to load configuration: %v", err)
			os.Exit(1)
		}
		connStr = cfg.ConnString()
	}
	store := initStore(connStr)
	defer store.Close()
	a := buildApp(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.bus.Start(ctx)
	defer a.bus.Stop()

	fn(ctx, a)
}

// buildApp wires the registry, dispatcher, bus, engine and coordinator over
// the given store. The collaborator services behind the coordinator are the
// in-memory ones until the surrounding system registers its live clients.
func buildApp(store storage.Store) *app {
	logger := log.GetLogger()
	registry := subscription.NewRegistry(store, logger)
	dispatcher := notify.NewDispatcher(store, logger)
	for _, channel := range []models.NotificationType{
		models.EmailNotification, models.SMSNotification, models.InAppNotification, models.PushNotification,
	} {
		dispatcher.RegisterSender(channel, logSender(channel))
	}
	bus := eventbus.NewBus(store, registry, dispatcher, logger)
	planner := engine.NewStaticPlanner()
	eng := engine.New(store, planner, bus, logger)

	services := integration.NewMockServices()
	coordinator := integration.NewCoordinator(
		services,
		services.RequestService(),
		services.InventoryService(),
		services.ProcurementService(),
		services.LocationService(),
		services.AuditLogger(),
		planner,
		bus,
		logger,
	)

	eng.RegisterHandler(models.DataValidationStep, engine.ValidationHandler())
	eng.RegisterHandler(models.ResourceAllocationStep, engine.NoopHandler())
	eng.RegisterHandler(models.ApprovalStep, engine.ApprovalHandler(planner, logger))
	eng.RegisterHandler(models.ServiceCallStep, coordinator.ServiceCallHandler())
	eng.RegisterHandler(models.NotificationStep, notificationHandler(dispatcher))

	return &app{
		store:       store,
		planner:     planner,
		engine:      eng,
		bus:         bus,
		registry:    registry,
		dispatcher:  dispatcher,
		coordinator: coordinator,
	}
}

// logSender is the stand-in delivery for deployments without a live gateway:
// the notification lands in the log instead of an external channel.
func logSender(channel models.NotificationType) notify.Sender {
	return notify.SenderFunc(func(ctx context.Context, n models.Notification) error {
		log.GetLogger().Infof("[%s] to %s: %s - %s", channel, n.Recipient, n.Title, n.Message)
		return nil
	})
}

// notificationHandler delivers the step notification to the workflow
// initiator. A failed delivery is recorded by the dispatcher and does not
// fail the workflow.
func notificationHandler(d *notify.Dispatcher) engine.StepHandler {
	return engine.StepHandlerFunc(func(ctx context.Context, sc engine.StepContext) error {
		_, err := d.SendNotification(ctx, notify.NotificationRequest{
			Recipient:     sc.Instance.InitiatedBy,
			Title:         fmt.Sprintf("Workflow %s update", sc.Instance.WorkflowType),
			Message:       fmt.Sprintf("Step '%s' reached (%d of %d)", sc.Step.Name, sc.Index, sc.Instance.TotalSteps),
			Type:          models.InAppNotification,
			RelatedEntity: "workflow:" + sc.Instance.ID,
		})
		return err
	})
}

func executeWorkflow(ctx context.Context, a *app, workflowType, userID, configRaw string) {
	var cfg json.RawMessage
	if configRaw != "" {
		if !json.Valid([]byte(configRaw)) {
			fmt.Fprintf(os.Stderr, "Error: --config is not valid JSON\n")
			os.Exit(1)
		}
		cfg = json.RawMessage(configRaw)
	}
	result, err := a.engine.ExecuteWorkflow(ctx, engine.WorkflowRequest{
		WorkflowType:  workflowType,
		UserID:        userID,
		Configuration: cfg,
	})
	if err != nil {
		log.GetLogger().Errorf("Failed to execute workflow: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to execute workflow: %v\n", err)
		os.Exit(1)
	}
	if !result.Success {
		fmt.Fprintf(os.Stdout, "Workflow did not complete: %s\n", result.Message)
		if result.WorkflowID != "" {
			fmt.Fprintf(os.Stdout, "- ID: %s, Status: %s, Steps run: %d\n", result.WorkflowID, result.Status, result.StepsRun)
		}
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Workflow %s completed (%d steps)\n", result.WorkflowID, result.StepsRun)
}

func listWorkflows(a *app) {
	instances, err := a.engine.ListWorkflows()
	if err != nil {
		log.GetLogger().Errorf("Failed to list workflows: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
		os.Exit(1)
	}
	if len(instances) == 0 {
		fmt.Fprintf(os.Stdout, "No workflows found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Workflows:\n")
	for _, wf := range instances {
		fmt.Fprintf(os.Stdout, "- ID: %s, Type: %s, Status: %s, Step: %d/%d, Started: %s\n",
			wf.ID, wf.WorkflowType, wf.Status, wf.CurrentStep, wf.TotalSteps, wf.StartedAt.Format(time.RFC3339))
	}
}

func showStatus(ctx context.Context, a *app, workflowID string) {
	snapshot, err := a.engine.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		log.GetLogger().Errorf("Failed to get workflow status: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to get workflow status: %v\n", err)
		os.Exit(1)
	}
	if !snapshot.Success {
		fmt.Fprintf(os.Stdout, "%s\n", snapshot.Message)
		os.Exit(1)
	}
	wf := snapshot.Instance
	fmt.Fprintf(os.Stdout, "Workflow %s (%s)\n", wf.ID, wf.WorkflowType)
	fmt.Fprintf(os.Stdout, "- Status: %s, Progress: %.0f%% (%d/%d steps)\n",
		wf.Status, snapshot.Progress, wf.CurrentStep, wf.TotalSteps)
	if wf.ErrorMsg != "" {
		fmt.Fprintf(os.Stdout, "- Error: %s\n", wf.ErrorMsg)
	}
	for _, s := range snapshot.CompletedSteps {
		fmt.Fprintf(os.Stdout, "- Completed: %s (%s)\n", s.Name, s.Type)
	}
	for _, e := range snapshot.RecentEvents {
		fmt.Fprintf(os.Stdout, "- Event: %s at %s\n", e.Type, e.OccurredAt.Format(time.RFC3339))
	}
}

func cancelWorkflow(ctx context.Context, a *app, workflowID, userID string) {
	result, err := a.engine.CancelWorkflow(ctx, workflowID, userID)
	if err != nil {
		log.GetLogger().Errorf("Failed to cancel workflow: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to cancel workflow: %v\n", err)
		os.Exit(1)
	}
	if !result.Success {
		fmt.Fprintf(os.Stdout, "%s\n", result.Message)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Cancelled workflow %s\n", workflowID)
}

func resumeWorkflow(ctx context.Context, a *app, workflowID string) {
	result, err := a.engine.ResumeWorkflow(ctx, workflowID)
	if err != nil {
		log.GetLogger().Errorf("Failed to resume workflow: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to resume workflow: %v\n", err)
		os.Exit(1)
	}
	if !result.Success {
		fmt.Fprintf(os.Stdout, "%s\n", result.Message)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Workflow %s: %s (status %s)\n", result.WorkflowID, result.Message, result.Status)
}

func processEvents(ctx context.Context, a *app, batchSize int) {
	pending, err := a.bus.GetPendingEvents(batchSize)
	if err != nil {
		log.GetLogger().Errorf("Failed to load pending events: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to load pending events: %v\n", err)
		os.Exit(1)
	}
	if len(pending) == 0 {
		fmt.Fprintf(os.Stdout, "No pending events.\n")
		return
	}
	result := a.bus.ProcessEventBatch(ctx, pending)
	fmt.Fprintf(os.Stdout, "Processed %d events, %d with errors (%.2fs)\n",
		result.ProcessedEvents, result.FailedEvents, result.Duration.Seconds())
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stdout, "- %s\n", e)
	}
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
