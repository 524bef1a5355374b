package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/dualsense-tools/dsud/internal/configpaths"
	"github.com/dualsense-tools/dsud/internal/daemon"
	"github.com/dualsense-tools/dsud/internal/firmware"
	"github.com/dualsense-tools/dsud/internal/hid"
	"github.com/dualsense-tools/dsud/internal/log"
	"github.com/dualsense-tools/dsud/internal/profile"
	"github.com/dualsense-tools/dsud/internal/server/api"
	"github.com/dualsense-tools/dsud/internal/server/api/auth"
	"github.com/dualsense-tools/dsud/internal/server/api/handler"
	"github.com/dualsense-tools/dsud/internal/session"
)

const keyFileName = "dsud.key.txt"

type Server struct {
	ApiServerConfig api.ServerConfig `embed:"" prefix:"api."`
	SessionConfig   session.Config   `embed:""`

	PollInterval   time.Duration `help:"Device discovery poll interval" default:"1s" env:"DSUD_POLL_INTERVAL"`
	ProfileDir     string        `help:"Directory holding stored profiles (defaults to the config dir)" env:"DSUD_PROFILE_DIR"`
	NoAuth         bool          `help:"Disable API authentication entirely" env:"DSUD_NO_AUTH"`
	PromptPassword bool          `help:"Read the API password from the terminal instead of the key file"`
}

// Run is called by Kong when the server command is executed.
func (s *Server) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger)
}

func (s *Server) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	logger.Info("Starting dsud controller daemon")

	if !s.NoAuth && s.ApiServerConfig.Password == "" {
		var pwd string
		var err error
		if s.PromptPassword {
			pwd, err = promptPassword()
		} else {
			pwd, err = s.loadOrCreateKey(logger)
		}
		if err != nil {
			return err
		}
		s.ApiServerConfig.Password = pwd
	}

	if err := hid.Init(); err != nil {
		return fmt.Errorf("hid init: %w", err)
	}
	defer func() { _ = hid.Exit() }()

	profileDir := s.ProfileDir
	if profileDir == "" {
		dir, err := configpaths.DefaultProfileDir()
		if err != nil {
			return fmt.Errorf("resolve profile dir: %w", err)
		}
		profileDir = dir
	}
	store, err := profile.NewStore(profileDir)
	if err != nil {
		return err
	}

	watcher := hid.NewPollWatcher(s.PollInterval)
	core := daemon.New(s.SessionConfig, hid.Open, watcher, logger, rawLogger)

	coreErrCh := make(chan error, 1)
	go func() { coreErrCh <- core.Run(ctx) }()

	if s.ApiServerConfig.Addr == "" {
		return fmt.Errorf("API server address must be set (default :3246)")
	}

	apiSrv, err := api.New(core, s.ApiServerConfig.Addr, s.ApiServerConfig, logger)
	if err != nil {
		return err
	}
	registerRoutes(apiSrv, core, store)

	if err := apiSrv.Start(); err != nil {
		logger.Error("failed to start API server", "error", err)
		return err
	}

	select {
	case <-ctx.Done():
		apiSrv.Close()
		<-coreErrCh
		return nil
	case err := <-coreErrCh:
		apiSrv.Close()
		return err
	}
}

func registerRoutes(apiSrv *api.Server, core *daemon.Core, store *profile.Store) {
	r := apiSrv.Router()
	r.Register("ping", handler.Ping())
	r.Register("controller/list", handler.ControllerList(core))
	r.Register("controller/{serial}/info", handler.ControllerInfo(core))
	r.Register("controller/{serial}/battery", handler.ControllerBattery(core))
	r.Register("controller/{serial}/led", handler.Lightbar(core))
	r.Register("controller/{serial}/lightbar-enabled", handler.LightbarEnabled(core))
	r.Register("controller/{serial}/player-leds", handler.PlayerLeds(core))
	r.Register("controller/{serial}/mic", handler.Mic(core))
	r.Register("controller/{serial}/mic-led", handler.MicLed(core))
	r.Register("controller/{serial}/vibration", handler.Vibration(core))
	r.Register("controller/{serial}/speaker", handler.Speaker(core))
	r.Register("controller/{serial}/volume", handler.Volume(core))
	r.Register("controller/{serial}/trigger-effect", handler.TriggerEffect(core))
	fetcher := firmware.NewFetcher("")
	r.Register("controller/{serial}/firmware/info", handler.FirmwareInfo(core))
	r.Register("controller/{serial}/firmware/latest", handler.FirmwareLatest(core, fetcher))
	r.Register("controller/{serial}/firmware/update-latest", handler.FirmwareUpdateLatest(core, fetcher))
	r.Register("controller/{serial}/firmware/start", handler.FirmwareStart(core))
	r.Register("controller/{serial}/firmware/abort", handler.FirmwareAbort(core))
	r.Register("controller/{serial}/reset", handler.ControllerReset(core))
	r.Register("profile/list", handler.ProfileList(store))
	r.Register("profile/save", handler.ProfileSave(store))
	r.Register("profile/delete", handler.ProfileDelete(store))
	r.Register("controller/{serial}/profile/apply", handler.ProfileApply(core, store))
	r.RegisterStream("controller/{serial}/events", handler.Events(core, apiSrv.Config().StreamInputBuffer))
}

// loadOrCreateKey reads the API password from the key file, generating and
// persisting a fresh one on first start.
func (s *Server) loadOrCreateKey(logger *slog.Logger) (string, error) {
	keyFileDir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve key file path: %w", err)
	}
	keyFilePath := path.Join(keyFileDir, keyFileName)
	if pwd, err := os.ReadFile(keyFilePath); err == nil {
		return strings.TrimSpace(string(pwd)), nil
	}

	newPwd, err := auth.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate new API password: %w", err)
	}
	if err := os.MkdirAll(keyFileDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config dir for key file: %w", err)
	}
	if err := os.WriteFile(keyFilePath, []byte(newPwd), 0o600); err != nil {
		return "", fmt.Errorf("failed to write new API password to file: %w", err)
	}
	logger.Info("Generated API server password", "path", keyFilePath)
	logger.Info("-------------------------------------")
	logger.Info("Your dsud API server password is:")
	logger.Info("-------------------------------------")
	logger.Info(newPwd)
	logger.Info("-------------------------------------")
	logger.Info("You can change this password at any time by editing the file")
	return newPwd, nil
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--prompt-password requires an interactive terminal")
	}
	fmt.Fprint(os.Stderr, "API password: ")
	pwd, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(pwd) == 0 {
		return "", fmt.Errorf("empty password")
	}
	return string(pwd), nil
}
