package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"crewjob/internal/app"
	"crewjob/internal/config"
	"crewjob/internal/domain"
	"crewjob/internal/logger"
	"crewjob/internal/observability"
	"crewjob/internal/party"
	"crewjob/internal/server"
	crewjobsdk "crewjob/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "cj",
	Short: "crewjob CLI",
	Long: `crewjob runs jobs alone or with a party.
- Jobs: catalog entries; a job that needs more than one crew member is a party job.
- Parties: formed for one job by a leader; others join until the crew is complete.
- Only the leader can kick members or start the party job.
- Challenges: sometimes an action asks you to pick a number before it goes through.
  Missing it restricts your account for a while.
- Cooldowns: when the server says "slow down", that action category pauses locally.`,
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
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CREWJOB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	slog.SetDefault(logger.New(logger.Config{
		Level:       logger.ParseLevel(viper.GetString("log-level")),
		Environment: viper.GetString("env"),
	}))
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "", "API base URL (overrides client.server_url)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(meCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(partyCmd())
	rootCmd.AddCommand(autoCmd())
	rootCmd.AddCommand(logCmd())
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default crewjob.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate crewjob.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var tracing bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reference party, job and verdict server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := cfg.Server.Auth.JWTSecret
			if env := viper.GetString("jwt-secret"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("server.auth.jwt_secret or CREWJOB_JWT_SECRET is required")
			}
			shutdownTracing := observability.InitTracing(tracing)
			defer shutdownTracing(context.Background())

			e, conn, err := app.OpenEngine(cmd.Context(), viper.GetString("workspace"), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			defer e.Close()
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret: secret,
					DevLogin:  cfg.Server.Auth.DevLogin,
					TokenTTL:  cfg.Server.Auth.TokenTTL,
				},
				Logger: slog.Default(),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving crewjob API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "use the globally registered OpenTelemetry provider")
	return cmd
}

func loginCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "login <player-id>",
		Short: "Log in with the dev login and remember the token in the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newClient(cfg, "")
			res, err := client.Login(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			sess := savedSession{ServerURL: client.BaseURL, PlayerID: res.PlayerID, Token: res.Token, ExpiresAt: res.ExpiresAt}
			if err := writeSession(viper.GetString("workspace"), sess); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("logged in as %s (token valid until %s)\n", res.PlayerID, res.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your player profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(client *crewjobsdk.Client, _ savedSession, _ *config.Config) error {
				prof, err := client.Me(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prof)
				}
				fmt.Printf("Player: %s (level %d, energy %d)\n", prof.ID, prof.Level, prof.Energy)
				if prof.RestrictedSeconds > 0 {
					fmt.Printf("Restricted for %ds\n", prof.RestrictedSeconds)
				}
				for cat, job := range prof.AutoJobs {
					fmt.Printf("Auto job (%s): %s\n", cat, job)
				}
				return nil
			})
		},
	}
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "job", Short: "Browse and run jobs"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the job catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(client *crewjobsdk.Client, _ savedSession, _ *config.Config) error {
				jobs, err := client.ListJobs(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Crew", "Level", "Energy", "Category"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.Name, j.RequiredCrew, j.RequiredLevel, j.RequiredEnergy, j.Category()})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "do <job-id>",
		Short: "Run a solo job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), false, func(ctx context.Context, s *app.Session) error {
				res, err := s.Pipeline.DoJob(ctx, args[0])
				if err != nil {
					return explain(err)
				}
				return printResult(res)
			})
		},
	})
	return cmd
}

func partyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "party", Short: "Form and run parties"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <job-id>",
		Short: "List the parties formed for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(client *crewjobsdk.Client, _ savedSession, _ *config.Config) error {
				parties, err := client.ListPartiesForJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(parties)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Leader", "Crew", "Open slots"})
				for _, p := range parties {
					tw.AppendRow(table.Row{p.ID, p.OwnerID, fmt.Sprintf("%d/%d", len(p.Crew), p.RequiredCrew), p.OpenSlots()})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create <job-id>",
		Short: "Create a party and lead it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, s *app.Session) error {
				p, err := s.Party.CreateParty(ctx, args[0])
				if err != nil {
					return explain(err)
				}
				return printParty(&p, s.Party.UserID())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "join <party-id>",
		Short: "Join a party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, s *app.Session) error {
				p, err := s.Party.JoinParty(ctx, args[0])
				if err != nil {
					return explain(err)
				}
				return printParty(&p, s.Party.UserID())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "leave",
		Short: "Leave your party",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, s *app.Session) error {
				if err := s.Party.LeaveParty(ctx); err != nil {
					return explain(err)
				}
				fmt.Println("left the party")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "kick <player-id>",
		Short: "Remove a member (leader only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, s *app.Session) error {
				if err := s.Party.KickMember(ctx, args[0]); err != nil {
					return explain(err)
				}
				fmt.Println("kicked", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show your party",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, s *app.Session) error {
				return printParty(s.Party.Party(), s.Party.UserID())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "do",
		Short: "Start the party job (leader with a complete crew)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), true, func(ctx context.Context, s *app.Session) error {
				res, err := s.Pipeline.DoPartyJob(ctx)
				if err != nil {
					return explain(err)
				}
				return printResult(res)
			})
		},
	})
	cmd.AddCommand(partyWatchCmd())
	return cmd
}

func partyWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow your party until it is gone or you interrupt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			return withSessionOpts(ctx, true, app.SessionOptions{
				OnPartyExit: func() {
					fmt.Println("party is gone")
					cancel()
				},
			}, func(ctx context.Context, s *app.Session) error {
				if s.Party.Snapshot().View != party.ViewHasParty {
					fmt.Println("not in a party")
					return nil
				}
				var last string
				ticker := time.NewTicker(500 * time.Millisecond)
				defer ticker.Stop()
				for {
					if p := s.Party.Party(); p != nil {
						line := fmt.Sprintf("%s: %d/%d %s", p.ID, len(p.Crew), p.RequiredCrew, strings.Join(p.MemberIDs(), ","))
						if line != last {
							fmt.Println(line)
							last = line
						}
					}
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
		},
	}
}

func autoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auto", Short: "Automated jobs"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <solo|party> <job-id>",
		Short: "Set your preferred automated job for a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), false, func(ctx context.Context, s *app.Session) error {
				if err := s.Pipeline.SetAutoJob(ctx, domain.Category(args[0]), args[1]); err != nil {
					return explain(err)
				}
				fmt.Printf("auto job for %s set to %s\n", args[0], args[1])
				return nil
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything the server recorded: parties formed, joined and left, jobs run, restrictions.",
	}
	var n int
	var after int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(client *crewjobsdk.Client, _ savedSession, _ *config.Config) error {
				items, err := client.Events(cmd.Context(), after, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, e := range items {
					fmt.Printf("%d %s %s %s/%s by %s %s\n", e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID, e.Payload)
				}
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().Int64Var(&after, "after", 0, "only events after this id")
	log.AddCommand(tail)
	return log
}

func loadConfig() (*config.Config, error) {
	return config.LoadOptional(viper.GetString("workspace"))
}

func newClient(cfg *config.Config, token string) *crewjobsdk.Client {
	base := cfg.Client.ServerURL
	if s := viper.GetString("server"); s != "" {
		base = s
	}
	c := crewjobsdk.New(base)
	c.Timeout = cfg.Client.RequestTimeout
	c.BearerToken = token
	return c
}

func withClient(fn func(*crewjobsdk.Client, savedSession, *config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := readSession(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	client := newClient(cfg, sess.Token)
	if viper.GetString("server") == "" && sess.ServerURL != "" {
		client.BaseURL = sess.ServerURL
	}
	return fn(client, sess, cfg)
}

func withSession(ctx context.Context, mount bool, fn func(context.Context, *app.Session) error) error {
	return withSessionOpts(ctx, mount, app.SessionOptions{}, fn)
}

// withSessionOpts builds the client core for the saved login. mount loads the party view
// first, which party commands need for their local checks.
func withSessionOpts(ctx context.Context, mount bool, opts app.SessionOptions, fn func(context.Context, *app.Session) error) error {
	return withClient(func(client *crewjobsdk.Client, sess savedSession, cfg *config.Config) error {
		if opts.Solver == nil {
			opts.Solver = newTerminalSolver(os.Stdin, os.Stdout)
		}
		if opts.Logger == nil {
			opts.Logger = slog.Default()
		}
		s := app.NewSession(cfg.Client, client, sess.PlayerID, opts)
		defer s.Close()
		load := s.LoadProfile
		if mount {
			load = s.Mount
		}
		if err := load(ctx); err != nil {
			return explain(err)
		}
		return fn(ctx, s)
	})
}

// savedSession is the login remembered in the workspace.
type savedSession struct {
	ServerURL string    `yaml:"server_url"`
	PlayerID  string    `yaml:"player_id"`
	Token     string    `yaml:"token"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

func sessionPath(workspace string) string {
	return filepath.Join(workspace, ".crewjob", "session.yml")
}

func writeSession(workspace string, s savedSession) error {
	path := sessionPath(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readSession(workspace string) (savedSession, error) {
	var s savedSession
	data, err := os.ReadFile(sessionPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return s, fmt.Errorf("not logged in; run cj login <player-id>")
		}
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("invalid session file: %w", err)
	}
	if !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) {
		return s, fmt.Errorf("login expired; run cj login %s", s.PlayerID)
	}
	return s, nil
}

func printParty(p *domain.Party, me string) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	if p == nil {
		fmt.Println("not in a party")
		return nil
	}
	fmt.Printf("Party %s for %s (%d/%d)\n", p.ID, p.JobID, len(p.Crew), p.RequiredCrew)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Member", "Level", "Role"})
	for _, m := range p.Crew {
		role := ""
		if m.ID == p.OwnerID {
			role = "leader"
		}
		if m.ID == me {
			role = strings.TrimSpace(role + " (you)")
		}
		tw.AppendRow(table.Row{m.ID, m.Level, role})
	}
	tw.Render()
	switch {
	case p.OwnerID == me && p.IsComplete():
		fmt.Println("Crew complete: run cj party do")
	case p.OwnerID == me:
		fmt.Printf("Waiting for crew: %d slot(s) open\n", p.OpenSlots())
	}
	return nil
}

func printResult(res domain.JobResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("Job %s done (run %s)\n", res.JobID, res.RunID)
	if res.Player != nil {
		fmt.Printf("Energy left: %d\n", res.Player.Energy)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
