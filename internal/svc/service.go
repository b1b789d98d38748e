// Package svc runs logkeeper as a system service.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// Service identity defaults.
const (
	DefaultName        = "logkeeper"
	DefaultDisplayName = "logkeeper storage manager"
	DefaultDescription = "Keeps the recording volume from filling and offloads segments to external storage"
	DefaultConfigPath  = "/etc/logkeeper/logkeeper.yaml"
	DefaultLogPath     = "/var/log/logkeeper.log"
)

// RunFunc runs the daemon until ctx is cancelled.
type RunFunc func(ctx context.Context, configPath string) error

// Program implements service.Interface for the kardianos/service library.
type Program struct {
	ConfigPath string
	Run        RunFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts.
// It must not block - start the actual work in a goroutine.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		if p.Run == nil {
			p.done <- fmt.Errorf("run function not configured")
			return
		}
		p.done <- p.Run(p.ctx, p.ConfigPath)
	}()

	return nil
}

// Stop is called when the service stops.
// It should signal the running goroutine to stop and wait for it.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ServiceConfig holds configuration for service installation.
type ServiceConfig struct {
	Name        string
	DisplayName string
	Description string
	ConfigPath  string
	UserName    string // User to run as; the daemon needs root to mount and format
}

// DefaultServiceConfig returns the configuration used when no flags override it.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Name:        DefaultName,
		DisplayName: DefaultDisplayName,
		Description: DefaultDescription,
		ConfigPath:  DefaultConfigPath,
	}
}

// NewServiceConfig creates service.Config from our ServiceConfig.
func NewServiceConfig(cfg *ServiceConfig, execPath string) *service.Config {
	args := []string{
		"--service-run",
		"run",
		"--config", cfg.ConfigPath,
	}

	svcCfg := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Executable:  execPath,
		Arguments:   args,
	}

	if runtime.GOOS == "linux" {
		// The recorder's data partition must be mounted before we start.
		svcCfg.Dependencies = []string{"After=local-fs.target"}
		svcCfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		}
	}
	if cfg.UserName != "" {
		svcCfg.UserName = cfg.UserName
	}

	return svcCfg
}

// CreateService creates a new service instance.
func CreateService(prg *Program, cfg *ServiceConfig) (service.Service, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("get executable path: %w", err)
	}

	return service.New(prg, NewServiceConfig(cfg, execPath))
}

func control(cfg *ServiceConfig) (service.Service, error) {
	svc, err := CreateService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return svc, nil
}

// Install installs the service.
func Install(cfg *ServiceConfig, force bool) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}

	status, err := svc.Status()
	if err == nil {
		switch status {
		case service.StatusRunning:
			if !force {
				return fmt.Errorf("service %q is running; stop it first or use --force", cfg.Name)
			}
			if err := svc.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
			if err := svc.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		case service.StatusStopped:
			if !force {
				return fmt.Errorf("service %q already installed; use --force to reinstall", cfg.Name)
			}
			if err := svc.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		}
	}

	if err := svc.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	return nil
}

// Uninstall removes the service, stopping it first if it is running.
func Uninstall(cfg *ServiceConfig) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}

	status, _ := svc.Status()
	if status == service.StatusRunning {
		if err := svc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}

	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Start starts the service.
func Start(cfg *ServiceConfig) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return nil
}

// Stop stops the service.
func Stop(cfg *ServiceConfig) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}
	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return nil
}

// Restart restarts the service.
func Restart(cfg *ServiceConfig) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}
	if err := svc.Restart(); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}
	return nil
}

// Status returns the service status.
func Status(cfg *ServiceConfig) (service.Status, error) {
	svc, err := control(cfg)
	if err != nil {
		return service.StatusUnknown, err
	}
	return svc.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run runs the service (called when started by the service manager).
func Run(prg *Program, cfg *ServiceConfig) error {
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return svc.Run()
}

// CheckPrivileges checks that the caller may manage services and block devices.
func CheckPrivileges() error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("root privileges required (use sudo)")
	}
	return nil
}

// IsServiceMode returns true if running as a service (--service-run flag is set).
func IsServiceMode(args []string) bool {
	for _, arg := range args {
		if arg == "--service-run" {
			return true
		}
	}
	return false
}
