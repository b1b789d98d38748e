package main

import (
	"fmt"
	"os"

	"github.com/logkeeper/logkeeper/internal/svc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serviceConfigPath string
	serviceName       string
	serviceUser       string
	forceInstall      bool
	logsFollow        bool
	logsLines         int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the logkeeper system service",
		Long: `Install, control, and inspect logkeeper as a systemd service.

Examples:
  sudo logkeeper service install --config /etc/logkeeper/logkeeper.yaml
  sudo logkeeper service start
  sudo logkeeper service status
  sudo logkeeper service logs --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install logkeeper as a system service",
		Long: `Install logkeeper as a system service that starts automatically at boot.

Requires root privileges.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVarP(&serviceConfigPath, "config", "c", "", "Path to configuration file")
	installCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name (default: logkeeper)")
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	for _, c := range []*cobra.Command{
		{Use: "uninstall", Short: "Remove the logkeeper system service", RunE: runServiceUninstall},
		{Use: "start", Short: "Start the logkeeper service", RunE: runServiceStart},
		{Use: "stop", Short: "Stop the logkeeper service", RunE: runServiceStop},
		{Use: "restart", Short: "Restart the logkeeper service", RunE: runServiceRestart},
		{Use: "status", Short: "Show logkeeper service status", RunE: runServiceStatus},
	} {
		c.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
		serviceCmd.AddCommand(c)
	}

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View logkeeper service logs",
		Long: `View logs from the logkeeper service.

Logs come from journalctl -u logkeeper, or from /var/log/logkeeper.log on
systems without a journal.`,
		RunE: runServiceLogs,
	}
	logsCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of log lines to show")
	serviceCmd.AddCommand(logsCmd)

	return serviceCmd
}

func getServiceConfig() *svc.ServiceConfig {
	cfg := svc.DefaultServiceConfig()
	if serviceName != "" {
		cfg.Name = serviceName
	}
	if serviceConfigPath != "" {
		cfg.ConfigPath = serviceConfigPath
	}
	cfg.UserName = serviceUser
	return cfg
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s\nCreate the config file first or specify a different path with --config", cfg.ConfigPath)
	}
	if _, err := loadConfig(cfg.ConfigPath); err != nil {
		return err
	}

	log.Info().
		Str("name", cfg.Name).
		Str("config", cfg.ConfigPath).
		Msg("installing service")

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	fmt.Printf("Service %q installed successfully.\n", cfg.Name)
	fmt.Printf("\nTo start the service:\n")
	fmt.Printf("  logkeeper service start --name %s\n", cfg.Name)
	fmt.Printf("\nTo view logs:\n")
	fmt.Printf("  logkeeper service logs --name %s\n", cfg.Name)

	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	log.Info().Str("name", cfg.Name).Msg("uninstalling service")

	if err := svc.Uninstall(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q uninstalled successfully.\n", cfg.Name)
	return nil
}

func runServiceStart(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	log.Info().Str("name", cfg.Name).Msg("starting service")

	if err := svc.Start(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q started.\n", cfg.Name)
	return nil
}

func runServiceStop(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	log.Info().Str("name", cfg.Name).Msg("stopping service")

	if err := svc.Stop(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q stopped.\n", cfg.Name)
	return nil
}

func runServiceRestart(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	log.Info().Str("name", cfg.Name).Msg("restarting service")

	if err := svc.Restart(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q restarted.\n", cfg.Name)
	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg := getServiceConfig()

	status, err := svc.Status(cfg)
	if err != nil {
		fmt.Printf("Service: %s\n", cfg.Name)
		fmt.Printf("Status:  not installed or unknown\n")
		fmt.Printf("Error:   %v\n", err)
		return nil
	}

	fmt.Printf("Service: %s\n", cfg.Name)
	fmt.Printf("Status:  %s\n", svc.StatusString(status))
	fmt.Printf("Config:  %s\n", cfg.ConfigPath)

	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()

	return svc.ViewLogs(svc.LogOptions{
		ServiceName: cfg.Name,
		Follow:      logsFollow,
		Lines:       logsLines,
	})
}
