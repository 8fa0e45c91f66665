package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/prismsec/veritas/pkg/audit"
	"github.com/prismsec/veritas/pkg/config"
	"github.com/prismsec/veritas/pkg/session"
	"github.com/prismsec/veritas/pkg/storage"
	"github.com/prismsec/veritas/pkg/telemetry"
	"github.com/prismsec/veritas/pkg/trust"
)

var (
	configPath string
	Version    = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "veritas",
		Short: "Veritas - Device trust and compliance layer",
		Long:  "Inspect device compliance, manage admin sessions and work with the local secure storage",
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(
		statusCmd(),
		complianceCmd(),
		auditCmd(),
		loginCmd(),
		logoutCmd(),
		sessionCmd(),
		encryptCmd(),
		decryptCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show device trust status",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			snapshot := facade.Compliance(false)
			info := facade.DeviceInfo()

			status := "✅"
			if snapshot.Blocking() {
				status = "❌"
			}

			fmt.Printf("Veritas Status\n")
			fmt.Printf("==============\n\n")
			fmt.Printf("Device ID:        %s\n", info["device_id"])
			fmt.Printf("Security Level:   %s\n", info["security_level"])
			fmt.Printf("Hardware Backed:  %s\n", info["hardware_backed"])
			fmt.Printf("Compliance:       %d/100 %s\n", snapshot.Score, status)
			fmt.Printf("Host:             %s (%s %s)\n", info["hostname"], info["os_name"], info["arch"])

			return nil
		},
	}
}

func complianceCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Show the scored compliance snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			_, span := otel.Tracer("veritas/cli").Start(cmd.Context(), "compliance.refresh")
			snapshot := facade.Compliance(force)
			span.SetAttributes(attribute.Int("score", snapshot.Score), attribute.Bool("forced", force))
			span.End()

			fmt.Printf("Compliance Score: %d/100\n", snapshot.Score)
			fmt.Printf("Checked At:       %s\n", snapshot.LastCheck.Format(time.RFC3339))
			fmt.Printf("Provider:         enabled=%v level=%s\n",
				snapshot.Posture.ProviderEnabled, snapshot.Posture.SecurityLevel)

			if len(snapshot.Errors) > 0 {
				fmt.Printf("\nErrors:\n")
				for _, e := range snapshot.Errors {
					fmt.Printf("  ❌ %s\n", e)
				}
			}
			if len(snapshot.Warnings) > 0 {
				fmt.Printf("\nWarnings:\n")
				for _, w := range snapshot.Warnings {
					fmt.Printf("  ⚠️  %s\n", w)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the cache and re-query the provider")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Work with the audit ledger",
	}
	cmd.AddCommand(auditListCmd(), auditExportCmd())
	return cmd
}

func auditListCmd() *cobra.Command {
	var limit int
	var action string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			entries := facade.AuditFiltered(audit.Filter{Action: action, Limit: limit})

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tLEVEL\tDETAILS")
			fmt.Fprintln(w, "----\t------\t-----\t-------")
			for _, entry := range entries {
				details := ""
				if len(entry.Details) > 0 {
					raw, _ := json.Marshal(entry.Details)
					details = string(raw)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					entry.Timestamp.Format(time.RFC3339), entry.Action, entry.SecurityLevel, details)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	cmd.Flags().StringVar(&action, "action", "", "Only show entries with this action")
	return cmd
}

func auditExportCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit entries to the process log",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			job := facade.ExportAudit(audit.NewLogExporter(log.Logger), audit.Filter{Action: action}, 0)
			fmt.Printf("Export job started: %s\n", job)

			// Give the fire-and-forget job a moment before the process exits.
			time.Sleep(500 * time.Millisecond)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Only export entries with this action")
	return cmd
}

func loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Authenticate an admin session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			if password == "" {
				password, err = promptPassword()
				if err != nil {
					return err
				}
			}

			_, span := otel.Tracer("veritas/cli").Start(cmd.Context(), "session.login")
			summary, err := facade.Login(args[0], password)
			span.SetAttributes(attribute.Bool("authenticated", summary.Authenticated))
			span.End()

			if reason := session.RejectReason(err); reason != "" {
				fmt.Printf("Login rejected: %s\n", reason)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("Login successful\n")
			fmt.Printf("Token:            %s\n", summary.Token)
			fmt.Printf("Compliance Score: %d/100\n", summary.ComplianceScore)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the admin session",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			if err := facade.Logout(); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Resume and show the persisted admin session",
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			summary, err := facade.Resume()
			if err != nil {
				return err
			}

			if !summary.Authenticated {
				if summary.Reason != "" {
					fmt.Printf("Session invalid: %s\n", summary.Reason)
				} else {
					fmt.Println("No active session")
				}
				return nil
			}

			fmt.Printf("Authenticated as: %s\n", summary.Username)
			fmt.Printf("Logged in at:     %s\n", summary.LoginAt.Format(time.RFC3339))
			fmt.Printf("Compliance Score: %d/100\n", summary.ComplianceScore)
			return nil
		},
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [text]",
		Short: "Encrypt a string with the device key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			out, err := facade.EncryptString(args[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt [ciphertext]",
		Short: "Decrypt a string with the device key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			facade, shutdown, err := newFacade()
			if err != nil {
				return err
			}
			defer shutdown()

			out, err := facade.DecryptString(args[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("veritas version %s\n", Version)
		},
	}
}

func newFacade() (*trust.Facade, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	applyLogging(cfg.Logging)

	shutdown := func() {}
	if cfg.Tracing.Endpoint != "" || cfg.Tracing.LogSpans {
		ctx := context.Background()
		provider, err := telemetry.SetupTracing(ctx, "veritas", Version, cfg.Tracing)
		if err != nil {
			log.Warn().Err(err).Msg("Tracing setup failed, continuing without it")
		} else {
			shutdown = func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = provider.Shutdown(ctx)
			}
		}
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	facade, err := trust.New(trust.Options{
		Backend:       backend,
		KeystoreDir:   cfg.Keystore.Dir,
		Namespace:     cfg.Storage.Namespace,
		AuditCapacity: cfg.Audit.Capacity,
		ComplianceTTL: time.Duration(cfg.Compliance.CacheTTLS) * time.Second,
		Session: session.Config{
			Verifier:    newVerifier(cfg.Admin),
			LoginLimit:  cfg.Admin.LoginLimit,
			LoginWindow: time.Duration(cfg.Admin.LoginWindowS) * time.Second,
		},
		Logger: log.Logger,
	})
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return facade, shutdown, nil
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	if cfg.Storage.Driver == "memory" {
		return storage.NewMemoryBackend(), nil
	}
	if err := cfg.EnsureStorageDir(); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(cfg.Storage.Path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return storage.NewGormBackend(db)
}

func newVerifier(cfg config.AdminConfig) session.CredentialVerifier {
	if cfg.PasswordHash != "" {
		return session.NewHashVerifier(cfg.Username, cfg.PasswordHash, []byte(cfg.Salt))
	}
	return session.StaticVerifier{Username: cfg.Username, Password: cfg.DevPassword}
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func applyLogging(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = parsed
	}

	logger := newCLILogger(cfg.JSON)
	log.Logger = logger.Level(level)
	zerolog.SetGlobalLevel(level)
}

func newCLILogger(jsonFormat bool) zerolog.Logger {
	if jsonFormat {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}
