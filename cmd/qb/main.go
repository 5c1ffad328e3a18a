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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"questboard/internal/app"
	"questboard/internal/config"
	"questboard/internal/db"
	"questboard/internal/domain"
	"questboard/internal/events"
	"questboard/internal/observability"
	"questboard/internal/server"
	"questboard/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "qb",
	Short: "Questboard CLI",
	Long: `Questboard runs a guild quest board and the ledger of who is doing what.
- Quests: loaded from a seed at startup; a quest is either on the board (available) or taken.
- Enrollments: enroll takes a quest off the board; an enrollment moves InProgress -> Completed, or is abandoned with cancel.
- Rewards: a completed enrollment pays its gold and item exactly once with claim.
- Workspace: questboard.yml plus the .questboard state directory; CLI commands use the sqlite store in it.
- Event log: every change is recorded, view with 'qb log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUESTBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json (overrides config)")
	rootCmd.PersistentFlags().String("receipt-secret", "", "receipt signing secret (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("receipt-secret", rootCmd.PersistentFlags().Lookup("receipt-secret"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(questCmd())
	rootCmd.AddCommand(enrollCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(enrollmentsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(receiptCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default questboard.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func questCmd() *cobra.Command {
	q := &cobra.Command{Use: "quest", Short: "Browse the quest board"}
	q.AddCommand(questListCmd())
	q.AddCommand(questShowCmd())
	return q
}

func questListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available quests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				list := a.Ledger.AvailableQuests
				if all {
					list = a.Quests.List
				}
				quests, err := list(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(quests)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Difficulty", "Gold", "Item", "Giver", "Available"})
				for _, q := range quests {
					tw.AppendRow(table.Row{q.ID, q.Title, q.Difficulty, q.RewardGold, q.RewardItem, q.QuestGiver, q.IsAvailable})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include quests that are taken")
	return cmd
}

func questShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <quest-id>",
		Short: "Show a quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				q, err := a.Ledger.Quest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(q)
			})
		},
	}
}

func enrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <quest-id> <adventurer>",
		Short: "Enroll an adventurer in a quest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e, err := a.Ledger.Enroll(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printEnrollments([]domain.Enrollment{e})
			})
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <quest-id> <adventurer>",
		Short: "Abandon an in-progress quest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e, err := a.Ledger.Cancel(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printEnrollments([]domain.Enrollment{e})
			})
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <enrollment-id>",
		Short: "Mark an enrollment completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e, err := a.Ledger.Complete(ctx, args[0])
				if err != nil {
					return err
				}
				return printEnrollments([]domain.Enrollment{e})
			})
		},
	}
}

func claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <enrollment-id>",
		Short: "Claim the reward of a completed quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Ledger.ClaimReward(ctx, args[0])
				if err != nil {
					return err
				}
				out := struct {
					domain.ClaimReceipt
					ReceiptToken string `json:"receiptToken,omitempty"`
				}{ClaimReceipt: r}
				if a.Signer != nil {
					token, err := a.Signer.Sign(r)
					if err != nil {
						fmt.Fprintln(os.Stderr, "warning: reward claimed but receipt not signed:", err)
					}
					out.ReceiptToken = token
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("%s %d gold", r.Message, r.GoldReceived)
				if r.ItemReceived != "" {
					fmt.Printf(", %s", r.ItemReceived)
				}
				fmt.Println()
				if out.ReceiptToken != "" {
					fmt.Println("receipt:", out.ReceiptToken)
				}
				return nil
			})
		},
	}
}

func enrollmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrollments <adventurer>",
		Short: "List an adventurer's enrollments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Ledger.ListByAdventurer(ctx, args[0])
				if err != nil {
					return err
				}
				return printEnrollments(items)
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <enrollment-id>",
		Short: "Show one enrollment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e, err := a.Ledger.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(e)
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every enrollment, cancellation, completion, claim and reset, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f events.Filter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Events.Latest(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Quest", "Enrollment", "Adventurer"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS.Local().Format(time.DateTime), evt.Type, evt.QuestID, evt.EnrollmentID, evt.Adventurer})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.Adventurer, "adventurer", "", "adventurer filter")
	cmd.Flags().StringVar(&f.QuestID, "quest", "", "quest filter")
	return cmd
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all enrollments and reload quests from the seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset drops every enrollment; pass --yes to confirm")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Ledger.Reset(ctx); err != nil {
					return err
				}
				fmt.Println("Board reset.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm reset")
	return cmd
}

func receiptCmd() *cobra.Command {
	r := &cobra.Command{Use: "receipt", Short: "Reward receipts"}
	r.AddCommand(&cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a signed reward receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				claims, err := a.Signer.Verify(args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"valid":          true,
					"enrollmentId":   claims.EnrollmentID(),
					"questId":        claims.QuestID,
					"adventurerName": claims.AdventurerName,
					"goldReceived":   claims.GoldReceived,
					"itemReceived":   claims.ItemReceived,
				})
			})
		},
	})
	return r
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			logger := newLogger(cfg)

			shutdownTracing, err := telemetry.Setup(ctx, telemetry.OptionsFromEnv("questboard", cfg.Telemetry.OTLPEndpoint))
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(sctx); err != nil {
					logger.Warn().Err(err).Msg("flush traces")
				}
			}()

			a, err := app.Open(ctx, app.Options{
				Workspace:     workspace,
				Config:        cfg,
				Logger:        &logger,
				ReceiptSecret: viper.GetString("receipt-secret"),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Ledger:   a.Ledger,
				Quests:   a.Quests,
				Events:   a.Events,
				Signer:   a.Signer,
				BasePath: cfg.Server.BasePath,
				Logger:   &logger,
			})
			if err != nil {
				return err
			}
			server.StartWebhooks(ctx, a.Events, cfg.Webhooks, logger)

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			logger.Info().
				Str("addr", cfg.Server.Addr).
				Str("base_path", cfg.Server.BasePath).
				Str("storage", a.Backend).
				Bool("receipts", a.Signer != nil).
				Msgf("serving Questboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

// --- helpers ---

// withApp opens the workspace ledger. CLI invocations are one-shot, so they
// always use the sqlite store whatever backend the server is configured with.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	cfg.Storage.Backend = config.BackendSQLite
	logger := newLogger(cfg)
	a, err := app.Open(ctx, app.Options{
		Workspace:     workspace,
		Config:        cfg,
		Logger:        &logger,
		ReceiptSecret: viper.GetString("receipt-secret"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.Log.Level
	if v := viper.GetString("log-level"); v != "" {
		level = v
	}
	format := cfg.Log.Format
	if v := viper.GetString("log-format"); v != "" {
		format = v
	}
	return observability.InitLogger("questboard", format, level)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printEnrollments(items []domain.Enrollment) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Quest", "Adventurer", "Status", "Enrolled", "Completed", "Claimed"})
	for _, e := range items {
		completed := ""
		if e.CompletedAt != nil {
			completed = e.CompletedAt.Local().Format(time.DateTime)
		}
		tw.AppendRow(table.Row{e.ID, e.QuestID, e.AdventurerName, e.Status, e.EnrolledAt.Local().Format(time.DateTime), completed, e.RewardClaimed})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
