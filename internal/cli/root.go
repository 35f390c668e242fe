// Package cli implements tciactl, the command line front end of the import controller.
package cli

import (
	"errors"
	"fmt"

	"tciasync-desktop/internal/config"
	"tciasync-desktop/internal/crypto"
	"tciasync-desktop/internal/database"
	"tciasync-desktop/internal/models"
	"tciasync-desktop/internal/session"
	"tciasync-desktop/internal/shared"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// globals holds the persistent flags and what PersistentPreRunE derives from them
type globals struct {
	configPath string
	url        string
	username   string
	password   string
	profile    string
	logLevel   string

	cfg    config.Config
	logger *log.Logger
}

func NewRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "tciactl",
		Short: "Import TCIA series into an Orthanc archive",
		Long: `tciactl drives the TCIA plugin of an Orthanc server.

It lists the TCIA collections, submits NBIA carts for import, and reconciles
import jobs against the series actually stored in the archive.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultPath(), "Path to the TOML configuration file")
	cmd.PersistentFlags().StringVar(&g.url, "url", "", "Orthanc URL (overrides the configuration)")
	cmd.PersistentFlags().StringVar(&g.username, "username", "", "Orthanc username")
	cmd.PersistentFlags().StringVar(&g.password, "password", "", "Orthanc password")
	cmd.PersistentFlags().StringVar(&g.profile, "profile", "", "Use a connection profile saved by the desktop app")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newCollectionsCmd(g))
	cmd.AddCommand(newImportCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newClearCacheCmd(g))
	cmd.AddCommand(newHistoryCmd(g))

	return cmd
}

func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}

	if g.url != "" {
		cfg.Orthanc.URL = g.url
	}
	if g.username != "" {
		cfg.Orthanc.Username = g.username
	}
	if g.password != "" {
		cfg.Orthanc.Password = g.password
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}

	g.cfg = cfg
	g.logger = shared.NewLogger(cmd.ErrOrStderr())
	shared.SetLogLevel(g.logger, cfg.Log.Level)
	return nil
}

// connect builds a session on the configured server, or on --profile when set.
// With history the job is recorded in the database shared with the desktop app.
func (g *globals) connect(history bool) (*session.Session, func(), error) {
	var db *gorm.DB
	if history || g.profile != "" {
		opened, err := database.Open(g.cfg.Database, g.cfg.Log.Level, g.logger)
		if err != nil {
			return nil, nil, err
		}
		db = opened
	}

	conn := session.ConnectionFromConfig(g.cfg)
	if g.profile != "" {
		profileConn, err := g.profileConnection(db)
		if err != nil {
			_ = database.Close(db)
			return nil, nil, err
		}
		conn = profileConn
	}

	s := session.New(conn, session.Options{
		Config: g.cfg,
		DB:     db,
		Logger: g.logger,
	})
	cleanup := func() {
		s.Close()
		if err := database.Close(db); err != nil {
			g.logger.Warn("Error closing database", "error", err)
		}
	}
	return s, cleanup, nil
}

func (g *globals) profileConnection(db *gorm.DB) (session.Connection, error) {
	var profile models.ConnectionProfile
	if err := db.Where("name = ?", g.profile).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.Connection{}, fmt.Errorf("no connection profile named %q", g.profile)
		}
		return session.Connection{}, fmt.Errorf("failed to load profile: %w", err)
	}

	var box *crypto.Box
	if profile.PasswordEnc != "" {
		loaded, err := crypto.LoadBox(g.logger)
		if err != nil {
			return session.Connection{}, err
		}
		box = loaded
	}
	return session.ConnectionFromProfile(profile, box)
}

// userError replaces transport and validation errors by the message shown to users
func userError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(shared.UserMessage(err))
}
