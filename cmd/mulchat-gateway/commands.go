// ABOUTME: Cobra command tree for mulchat-gateway
// ABOUTME: serve, init, bootstrap-bot, token, health and version subcommands

package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/mulchat-gateway/internal/auth"
	"github.com/2389/mulchat-gateway/internal/config"
	"github.com/2389/mulchat-gateway/internal/gateway"
	"github.com/2389/mulchat-gateway/internal/logging"
	"github.com/2389/mulchat-gateway/internal/store"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "mulchat-gateway",
		Short:         "Realtime chat router with presence and an AI bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $MULCHAT_CONFIG or ~/.config/mulchat/gateway.yaml)")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return config.DefaultPath()
	}

	rootCmd.AddCommand(
		newServeCmd(resolve),
		newInitCmd(resolve),
		newBootstrapBotCmd(resolve),
		newTokenCmd(resolve),
		newHealthCmd(resolve),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath()
			out := cmd.OutOrStdout()

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logger, closeLog, err := logging.Setup(cfg.Logging)
			if err != nil {
				return fmt.Errorf("setting up logging: %w", err)
			}
			defer closeLog() //nolint:errcheck

			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Config:    %s\n", path)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
			if cfg.Server.GRPCAddr != "" {
				green.Fprint(out, "    ▶ ")
				fmt.Fprintf(out, "gRPC:      %s\n", cfg.Server.GRPCAddr)
			}
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "AI:        %s", cfg.AI.Provider)
			if cfg.AI.Provider != "none" {
				gray.Fprintf(out, " (%s)", cfg.AI.Model)
			}
			fmt.Fprintln(out)
			if cfg.Auth.JWTSecret == "" {
				yellow.Fprintln(out, "    ! anonymous mode: identify is trusted")
			}
			fmt.Fprintln(out)

			logger.Info("starting mulchat-gateway",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"grpc_addr", cfg.Server.GRPCAddr,
			)

			gw, err := gateway.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func newInitCmd(configPath func() string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath()
			if err := config.WriteSample(path, force); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(out, "  ✓ Created config: %s\n", path)
			fmt.Fprintln(out, "\nSet MULCHAT_JWT_SECRET and GEMINI_API_KEY, then:")
			fmt.Fprintln(out, "  mulchat-gateway bootstrap-bot")
			fmt.Fprintln(out, "  mulchat-gateway serve")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

func newBootstrapBotCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-bot",
		Short: "Create the AI bot's user row if it is missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer s.Close()

			created, err := gateway.SeedBot(cmd.Context(), s, cfg.Bot)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if created {
				color.New(color.FgGreen).Fprintf(out, "  ✓ Created bot user %s (%s)\n", cfg.Bot.Name, cfg.Bot.ID)
			} else {
				color.New(color.FgCyan).Fprintf(out, "  Bot user %s already exists\n", cfg.Bot.ID)
			}
			return nil
		},
	}
}

func newTokenCmd(configPath func() string) *cobra.Command {
	var userID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for an existing user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}

			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer s.Close()

			user, err := s.GetUserByLogin(cmd.Context(), userID)
			if err != nil {
				user, err = s.GetUser(cmd.Context(), userID)
			}
			if err != nil {
				return fmt.Errorf("user %q: %w", userID, err)
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating JWT verifier: %w", err)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := verifier.Generate(user.ID, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id, username or email")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// localAddr rewrites a wildcard listen address to loopback for client use.
func localAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func newHealthCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			url := fmt.Sprintf("http://%s/health/ready", localAddr(cfg.Server.HTTPAddr))
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), string(body))
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
