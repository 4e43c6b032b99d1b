package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskforge/internal/app"
	"taskforge/internal/db"
	"taskforge/internal/domain"
	"taskforge/internal/repo"
	"taskforge/internal/scheduler"
	"taskforge/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tf",
	Short: "Taskforge CLI",
	Long: `Taskforge discovers income opportunities, expands them into tasks, and runs
them through workers while recording every change as an event.
- Workspace: the .taskforge directory holding the SQLite database.
- Blueprints: scored opportunities; new -> approved/rejected, expansion makes them active.
- Tasks: units of work dispatched by priority, then importance.
- Workers: polling loops that claim and execute tasks.
- Scheduler: recurring jobs (discovery, income scan, health, retry, reconnect).
- Event log: diary of everything, view with 'tf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(blueprintCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(incomeCmd())
	rootCmd.AddCommand(workersCmd())
	rootCmd.AddCommand(keysCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withScheduler, withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rt.AnnounceStart("serve")
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("TASKFORGE_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					authCfg.AllowAnonymous = true
					fmt.Println("WARNING: TASKFORGE_JWT_SECRET not set; serving without authentication")
				}
				handler, err := server.New(server.Config{Runtime: rt, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}

				if withScheduler {
					go func() {
						_ = rt.Scheduler().Run(ctx)
					}()
				}
				if withWorker {
					loop := rt.WorkerLoop("local-worker", "local", nil)
					go func() {
						_ = loop.Run(ctx)
					}()
				}

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Taskforge API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "run recurring jobs in-process")
	cmd.Flags().BoolVar(&withWorker, "worker", false, "run a local worker in-process")
	return cmd
}

func workerCmd() *cobra.Command {
	var name, kind string
	var caps []string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a task worker loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rt.AnnounceStart("worker")
				loop := rt.WorkerLoop(name, kind, caps)
				fmt.Printf("Worker %s polling every %s\n", name, rt.Config.PollInterval())
				err := loop.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "local-worker", "worker name")
	cmd.Flags().StringVar(&kind, "kind", "local", "worker kind")
	cmd.Flags().StringArrayVar(&caps, "capability", nil, "worker capability (repeatable)")
	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the discovery scan once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				job := scheduler.DiscoveryJob(rt.Repo, rt.Bus, rt.Gate(), nil, time.Now, time.Minute)
				if err := job.Run(ctx); err != nil {
					return err
				}
				items, err := rt.Repo.ListBlueprints(ctx, repo.BlueprintFilters{Status: domain.BlueprintNew})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func pipelineCmd() *cobra.Command {
	pipe := &cobra.Command{Use: "pipeline", Short: "Blueprint expansion pipeline"}
	pipe.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Expand new and approved blueprints into tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.RunPipelineOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Expanded %d blueprint(s)\n", n)
				return nil
			})
		},
	})
	return pipe
}

func blueprintCmd() *cobra.Command {
	bp := &cobra.Command{Use: "blueprint", Short: "Manage blueprints"}
	bp.AddCommand(blueprintListCmd())
	bp.AddCommand(blueprintShowCmd())
	bp.AddCommand(blueprintReviewCmd("approve", domain.BlueprintApproved))
	bp.AddCommand(blueprintReviewCmd("reject", domain.BlueprintRejected))
	return bp
}

func blueprintListCmd() *cobra.Command {
	var f repo.BlueprintFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List blueprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Repo.ListBlueprints(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "ROI", "Auto", "Risk"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Title, b.Status, b.ROIScore, b.AutomationScore, b.RiskScore})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func blueprintShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a blueprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				b, err := rt.Repo.GetBlueprint(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func blueprintReviewCmd(verb, status string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a blueprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := rt.Repo.UpdateBlueprintStatus(ctx, id, status, now); err != nil {
					return err
				}
				b, err := rt.Repo.GetBlueprint(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskPendingCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().Int64Var(&f.BlueprintID, "blueprint", 0, "blueprint id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func taskPendingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Pending tasks in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.SelectPendingTasks(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTaskTable(tasks)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var name, desc, category string
	var priority, importance int
	var blueprintID int64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t := domain.Task{
					Name:             name,
					ShortDescription: desc,
					Category:         category,
					Priority:         priority,
					Importance:       importance,
				}
				if blueprintID > 0 {
					t.BlueprintID = domain.Ref(blueprintID)
				}
				created, err := rt.Engine.SubmitTask(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&desc, "description", "", "short description")
	cmd.Flags().StringVar(&category, "category", "", "task category")
	cmd.Flags().IntVar(&priority, "priority", 50, "priority (lower runs first)")
	cmd.Flags().IntVar(&importance, "importance", 50, "importance (higher breaks ties)")
	cmd.Flags().Int64Var(&blueprintID, "blueprint", 0, "originating blueprint id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "System status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				counts, err := rt.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				lastID, err := rt.Store.LastID(ctx)
				if err != nil {
					return err
				}
				jobs, err := rt.Repo.ListScheduleJobs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"task_counts":   counts,
					"last_event_id": lastID,
					"jobs":          jobs,
				})
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: discoveries, expansions, task runs, income, and scheduler activity.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Store.ListRecent(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") && !follow {
					return printJSON(items)
				}
				// Recent is newest first; print oldest first for tailing.
				for i := len(items) - 1; i >= 0; i-- {
					printEventLine(items[i])
				}
				if !follow {
					return nil
				}
				lastID, err := rt.Store.LastID(ctx)
				if err != nil {
					return err
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
					fresh, err := rt.Store.EventsSince(ctx, lastID, 200)
					if err != nil {
						return err
					}
					for _, e := range fresh {
						printEventLine(e)
						lastID = e.ID
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing new events")
	return cmd
}

func incomeCmd() *cobra.Command {
	income := &cobra.Command{Use: "income", Short: "Income records"}
	income.AddCommand(&cobra.Command{
		Use:   "total",
		Short: "Total recorded income",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				total, err := rt.Repo.IncomeTotal(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"total": total, "currency": "USD"})
			})
		},
	})
	income.AddCommand(&cobra.Command{
		Use:   "by-platform",
		Short: "Income aggregated per platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Repo.IncomeByPlatform(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Platform", "Total", "Records"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.Platform, fmt.Sprintf("%.2f", p.Total), p.Count})
				}
				tw.Render()
				return nil
			})
		},
	})
	income.AddCommand(&cobra.Command{
		Use:   "recent",
		Short: "Recent income records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Repo.RecentIncome(ctx, 50)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return income
}

func workersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Repo.ListWorkers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Kind", "Active", "Last heartbeat"})
				for _, w := range items {
					hb := ""
					if w.LastHeartbeatAt != nil {
						hb = *w.LastHeartbeatAt
					}
					tw.AppendRow(table.Row{w.ID, w.Name, w.Kind, w.Active, hb})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "API key management"}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysRevokeCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := rt.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("API key %s created for %s\nSecret (save it now): %s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keysRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func renderTaskTable(tasks []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Prio", "Imp", "Category", "Worker"})
	for _, t := range tasks {
		workerID := ""
		if t.AssignedWorkerID != nil {
			workerID = fmt.Sprintf("%d", *t.AssignedWorkerID)
		}
		tw.AppendRow(table.Row{t.ID, t.Name, t.Status, t.Priority, t.Importance, t.Category, workerID})
	}
	tw.Render()
}

func printEventLine(e domain.Event) {
	fmt.Printf("%s  #%d  %-22s %s\n", e.CreatedAt, e.ID, e.Type, e.Message)
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
