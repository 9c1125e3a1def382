package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/redis/go-redis/v9"

	"failsafe/internal/config"
	"failsafe/internal/db"
	"failsafe/internal/domain"
	"failsafe/internal/engine"
	"failsafe/internal/migrate"
	"failsafe/internal/repo"
	"failsafe/internal/safety"
	"failsafe/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "awfdrsd",
	Short: "Automated workflow-failure detection and remediation service",
	Long: `awfdrsd ingests workflow failure events, correlates them into incidents,
classifies root cause, and drives automated remediation behind a safety fabric
of circuit breakers, sliding-window rate limiters, and retry budgets.

Core concepts:
- Workspace: the .failsafe directory holding the SQLite store and config.yaml.
- Tenant: the isolation boundary; every event, incident, and action belongs to one.
- Vendor: an external dependency whose circuit breaker and rate limit are tracked per tenant.
- Incident: the correlated unit of work a signature of repeated failures opens; NEW -> ANALYZING -> ACTIONED -> RESOLVED, with IGNORED reachable from any open state.
- Action: a single remediation attempt (retry or escalate) against an incident, single-flight per incident.
- Kill switch: a manual override that blocks ingestion for a tenant or a single workflow.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FAILSAFE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id")
	rootCmd.PersistentFlags().String("operator", "", "operator id (for RBAC-gated commands)")
	rootCmd.PersistentFlags().String("redis-url", "", "redis URL for the rate limiter and retry-budget counters (defaults to in-memory)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
	_ = viper.BindPFlag("operator", rootCmd.PersistentFlags().Lookup("operator"))
	_ = viper.BindPFlag("redis-url", rootCmd.PersistentFlags().Lookup("redis-url"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(vendorCmd())
	rootCmd.AddCommand(killswitchCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the safety/RBAC config",
		Long:  "Config is the rulebook for the safety fabric: error-code severities and retry policies, per-vendor rate-limit overrides, and operator role permissions.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configGenerateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(config.Path(viper.GetString("workspace")))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(config.Path(viper.GetString("workspace")))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if err := config.GenerateDefault(path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

// --- tenant ---

func tenantCmd() *cobra.Command {
	t := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	t.AddCommand(tenantCreateCmd())
	t.AddCommand(tenantListCmd())
	return t
}

func tenantCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t := domain.Tenant{
					ID:        newCLIID(),
					Name:      name,
					Active:    true,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertTenant(ctx, t); err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "tenant display name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func tenantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

// --- workflow ---

func workflowCmd() *cobra.Command {
	w := &cobra.Command{Use: "workflow", Short: "Manage workflow definitions"}
	w.AddCommand(workflowCreateCmd())
	w.AddCommand(workflowListCmd())
	return w
}

func workflowCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkflow(ctx, tenantID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkflows(ctx, tenantID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

// --- vendor ---

func vendorCmd() *cobra.Command {
	v := &cobra.Command{Use: "vendor", Short: "Manage vendors and inspect breaker state"}
	v.AddCommand(vendorCreateCmd())
	v.AddCommand(vendorListCmd())
	return v
}

func vendorCreateCmd() *cobra.Command {
	var name string
	var rateLimit int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a vendor",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.CreateVendor(ctx, tenantID, name, rateLimit)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "vendor name")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests admitted per minute (0 = unlimited)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func vendorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vendors and their breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListVendors(ctx, tenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Breaker", "Failures", "Rate Limit/min"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.Name, v.BreakerState, v.BreakerFailureCount, v.RateLimitPerMinute})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- kill switch ---

func killswitchCmd() *cobra.Command {
	k := &cobra.Command{Use: "killswitch", Short: "Activate, deactivate, and list kill switches"}
	k.AddCommand(killswitchActivateCmd())
	k.AddCommand(killswitchDeactivateCmd())
	k.AddCommand(killswitchListCmd())
	return k
}

func killswitchActivateCmd() *cobra.Command {
	var workflowID, reason string
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a kill switch for a tenant or a single workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			operatorID := viper.GetString("operator")
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ks, err := e.ActivateKillSwitch(ctx, tenantID, workflowID, reason, operatorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(ks)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id (empty activates a tenant-wide switch)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func killswitchDeactivateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate a kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			operatorID := viper.GetString("operator")
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeactivateKillSwitch(ctx, tenantID, id, operatorID)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "kill switch id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func killswitchListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List kill switches for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListKillSwitches(ctx, tenantID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

// --- incident ---

func incidentCmd() *cobra.Command {
	i := &cobra.Command{Use: "incident", Short: "Inspect and act on incidents"}
	i.AddCommand(incidentListCmd())
	i.AddCommand(incidentShowCmd())
	i.AddCommand(incidentActCmd())
	i.AddCommand(incidentResolveCmd())
	i.AddCommand(incidentIgnoreCmd())
	return i
}

func incidentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListIncidents(ctx, tenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Severity", "Status", "Events", "Retries"})
				for _, inc := range items {
					tw.AppendRow(table.Row{inc.ID, inc.Title, inc.Severity, inc.Status, inc.EventCount, inc.RetryCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func incidentShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an incident and its actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				inc, err := r.GetIncident(ctx, tenantID, id)
				if err != nil {
					return err
				}
				actions, err := r.ListActionsForIncident(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"incident": inc, "actions": actions})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "incident id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func incidentActCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "act",
		Short: "Classify an incident and trigger its next remediation action",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				decision, result, err := e.Decide(ctx, tenantID, id)
				if err != nil {
					return err
				}
				incident, err := e.Repo.GetIncident(ctx, tenantID, id)
				if err != nil {
					return err
				}
				action, err := e.Act(ctx, tenantID, incident, decision, result.Recommended)
				if err != nil {
					return err
				}
				return printJSONOrTable(action)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "incident id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func incidentResolveCmd() *cobra.Command {
	var id, note string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Mark an incident resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			operatorID := viper.GetString("operator")
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inc, err := e.Resolve(ctx, tenantID, id, operatorID, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(inc)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "incident id")
	cmd.Flags().StringVar(&note, "note", "", "resolution note")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func incidentIgnoreCmd() *cobra.Command {
	var id, note string
	cmd := &cobra.Command{
		Use:   "ignore",
		Short: "Mark an incident ignored",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			operatorID := viper.GetString("operator")
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inc, err := e.Ignore(ctx, tenantID, id, operatorID, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(inc)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "incident id")
	cmd.Flags().StringVar(&note, "note", "", "ignore reason")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --- event ---

func eventCmd() *cobra.Command {
	e := &cobra.Command{Use: "event", Short: "Submit failure events"}
	e.AddCommand(eventSubmitCmd())
	return e
}

func eventSubmitCmd() *cobra.Command {
	var workflowID, vendorID, eventType, errorCode, idempotencyKey, correlationID string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a workflow failure event for ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := requireTenant()
			if tenantID == "" {
				return fmt.Errorf("--tenant required")
			}
			if idempotencyKey == "" {
				idempotencyKey = newCLIID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.Ingest(ctx, engine.IngestRequest{
					TenantID:       tenantID,
					WorkflowID:     workflowID,
					VendorID:       optionalString(vendorID),
					EventType:      eventType,
					ErrorCode:      errorCode,
					IdempotencyKey: idempotencyKey,
					CorrelationID:  correlationID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&vendorID, "vendor", "", "vendor id")
	cmd.Flags().StringVar(&eventType, "type", "", "event type")
	cmd.Flags().StringVar(&errorCode, "error-code", "", "vendor error code")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key (generated if omitted)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "correlation id")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("error-code")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(config.Path(workspace))
			if err != nil {
				return err
			}
			counter, window, closeFn, err := buildSafetyBackends()
			if err != nil {
				return err
			}
			defer closeFn()
			e := engine.New(conn, cfg, counter, window, nil)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FAILSAFE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FAILSAFE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			startScheduler(cmd.Context(), e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving failsafe API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

const schedulerPollInterval = time.Second
const schedulerBatchSize = 50

// startScheduler runs the action coordinator's background poll: PENDING
// actions whose scheduled_for has passed are picked up and executed,
// jittered to keep multiple instances from hammering the store in lockstep.
func startScheduler(ctx context.Context, e engine.Engine) {
	go func() {
		for {
			jitter := time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(schedulerPollInterval + jitter):
			}
			if _, err := e.PollDue(ctx, schedulerBatchSize); err != nil {
				log.Printf("scheduler: poll failed: %v", err)
			}
		}
	}()
}

func requireTenant() string {
	return viper.GetString("tenant")
}

// buildSafetyBackends wires the rate limiter and retry-budget counter to
// Redis when --redis-url is set, falling back to the in-memory
// implementations for single-process or test use.
func buildSafetyBackends() (safety.WindowCounter, safety.SlidingWindow, func(), error) {
	url := viper.GetString("redis-url")
	if url == "" {
		return safety.NewMemCounter(time.Now), safety.NewMemSlidingWindow(), func() {}, nil
	}
	counter, err := safety.NewRedisCounter(url)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect redis counter: %w", err)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		counter.Close()
		return nil, nil, nil, err
	}
	window := safety.NewRedisSlidingWindow(redis.NewClient(opts))
	return counter, window, func() { counter.Close() }, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(config.Path(workspace))
	if err != nil {
		return err
	}
	counter, window, closeFn, err := buildSafetyBackends()
	if err != nil {
		return err
	}
	defer closeFn()
	e := engine.New(conn, cfg, counter, window, nil)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var cliSeq uint64

func newCLIID() string {
	cliSeq++
	return fmt.Sprintf("cli-%d-%d", time.Now().UnixNano(), cliSeq)
}
