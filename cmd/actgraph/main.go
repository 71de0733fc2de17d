package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"actgraph/internal/app"
	"actgraph/internal/config"
	"actgraph/internal/domain"
	"actgraph/internal/graph"
	"actgraph/internal/ingest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ACTGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "actgraph",
		Short: "Act graph integrity engine",
		Long: `actgraph keeps a graph of clinical acts, the relationships between them and
the roles participating in them, and refuses every change that would break
the graph's integrity rules.
- Acts carry a class and a mood fixed at creation and move through a status
  state machine.
- Relationships are typed edges between acts; COMP edges may never form a cycle.
- Participations attach roles to acts, at most once per role and type.
- Deleting an act leaves dangling edges behind until their owners repoint or
  disconnect them.
- Every accepted change is journaled; view it with 'actgraph log tail'.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "log-level"} {
		_ = v.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	root.AddCommand(serveCmd(v))
	root.AddCommand(auditCmd(v))
	root.AddCommand(renderCmd(v))
	root.AddCommand(ingestCmd(v))
	root.AddCommand(configCmd(v))
	root.AddCommand(logCmd(v))
	return root
}

func newLogger(v *viper.Viper, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openWorkspace loads the runtime backed by the workspace journal.
func openWorkspace(ctx context.Context, v *viper.Viper, errOut io.Writer) (*app.Runtime, error) {
	return app.Open(ctx, v.GetString("workspace"), newLogger(v, errOut))
}

// openScratch loads a runtime with the workspace config but no journal, for
// commands that work on graph files.
func openScratch(ctx context.Context, v *viper.Viper, errOut io.Writer) (*app.Runtime, error) {
	workspace := v.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	cfg.Journal.Enabled = false
	return app.OpenWithConfig(ctx, workspace, cfg, newLogger(v, errOut))
}

func serveCmd(v *viper.Viper) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openWorkspace(cmd.Context(), v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			if secret := v.GetString("jwt-secret"); secret != "" {
				rt.Config.Server.JWTSecret = secret
			}
			handler, err := rt.Handler()
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
			rt.Logger.Info("serving act graph API", "addr", addr, "base_path", rt.Config.Server.BasePath, "auth", rt.Config.Server.JWTSecret != "")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from config)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret enabling bearer auth (env ACTGRAPH_JWT_SECRET)")
	_ = v.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func auditCmd(v *viper.Viper) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Validate a graph snapshot file",
		Long:  "Loads a snapshot without enforcing any rule, then reports every violation it contains. Exits non-zero when any violation is blocking.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openScratch(cmd.Context(), v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := loadSnapshot(cmd.Context(), rt, file); err != nil {
				return err
			}
			report, err := rt.Engine.Audit(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if v.GetBool("json") {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else {
				printViolations(out, report.Violations)
				fmt.Fprintf(out, "%d acts, %d relationships, %d participations: %d violations (%d blocking)\n",
					report.Stats.Acts, report.Stats.Relationships, report.Stats.Participations,
					len(report.Violations), report.Blocking())
			}
			if n := report.Blocking(); n > 0 {
				return fmt.Errorf("%d blocking violations", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func renderCmd(v *viper.Viper) *cobra.Command {
	var file, act string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the human-readable text of an act",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openScratch(cmd.Context(), v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := loadSnapshot(cmd.Context(), rt, file); err != nil {
				return err
			}
			text, err := rt.Renderer.Text(cmd.Context(), domain.ActID(act))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot JSON file")
	cmd.Flags().StringVar(&act, "act", "", "act id")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("act")
	return cmd
}

func ingestCmd(v *viper.Viper) *cobra.Command {
	var file, snapshot, out string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Apply a transmission file and print its acknowledgement",
		Long:  "Applies the transmission to the graph loaded from --snapshot (empty when omitted) and writes the resulting graph to --out when given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openScratch(cmd.Context(), v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			if snapshot != "" {
				if err := loadSnapshot(cmd.Context(), rt, snapshot); err != nil {
					return err
				}
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var t ingest.Transmission
			if err := json.Unmarshal(data, &t); err != nil {
				return fmt.Errorf("decode transmission %s: %w", file, err)
			}
			ack, err := rt.Ingester.Apply(cmd.Context(), t)
			if err != nil {
				return err
			}
			if out != "" {
				if err := writeJSON(out, rt.Engine.Export(cmd.Context())); err != nil {
					return err
				}
			}
			w := cmd.OutOrStdout()
			if v.GetBool("json") {
				return printJSON(w, ack)
			}
			fmt.Fprintf(w, "%s %s acknowledges %s\n", ack.TypeCode, ack.ID, ack.Acknowledges)
			tw := table.NewWriter()
			tw.SetOutputMirror(w)
			tw.AppendHeader(table.Row{"Type", "Code", "Location", "Note"})
			for _, d := range ack.Details {
				tw.AppendRow(table.Row{d.TypeCode, d.Code, d.Location, d.Note})
			}
			tw.Render()
			if ack.TypeCode != ingest.AckAccept {
				return fmt.Errorf("transmission not accepted: %s", ack.TypeCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "transmission JSON file")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "snapshot JSON file to start from")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the resulting snapshot here")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd(v *viper.Viper) *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in actgraph.yml in the workspace: lock timeout, audit workers, definition moods, the terminology table and server settings.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(v.GetString("workspace"))
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), c)
			}
			out, err := c.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate actgraph.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(v.GetString("workspace"))
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default actgraph.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(v.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	return cfg
}

func logCmd(v *viper.Viper) *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Mutation journal",
	}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openWorkspace(cmd.Context(), v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.Events == nil {
				return errors.New("the journal is disabled in this workspace")
			}
			evs, err := rt.Events.Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), evs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
			for _, e := range evs {
				tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID})
			}
			tw.Render()
			return nil
		},
	}
	tail.Flags().IntVarP(&n, "limit", "n", 20, "number of events")
	log.AddCommand(tail)
	return log
}

func loadSnapshot(ctx context.Context, rt *app.Runtime, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap graph.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return rt.Engine.Import(ctx, snap)
}

func printViolations(w io.Writer, vs []domain.Violation) {
	if len(vs) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Kind", "Severity", "Acts", "Relationships", "Participations", "Message"})
	for _, vi := range vs {
		tw.AppendRow(table.Row{vi.Kind, vi.Severity, joinIDs(vi.ActIDs), joinIDs(vi.RelationshipIDs), joinIDs(vi.ParticipationIDs), vi.Message})
	}
	tw.Render()
}

func joinIDs[T ~string](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
