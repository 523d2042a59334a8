package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/habitkeep/internal/config"
	"github.com/julianstephens/habitkeep/internal/coordinator"
	"github.com/julianstephens/habitkeep/internal/logger"
	"github.com/julianstephens/habitkeep/internal/network"
	"github.com/julianstephens/habitkeep/internal/storage/sqlite"
	"github.com/julianstephens/habitkeep/internal/syncer"
)

// RemoteConn is the connection lifecycle of a remote backend client.
type RemoteConn interface {
	Open(ctx context.Context) error
	Close() error
}

type Context struct {
	Config      config.Config
	ConfigDir   string
	Store       *sqlite.Store
	Network     network.Provider
	Remote      RemoteConn // nil when no backend is configured
	Engine      *syncer.Engine
	Coordinator *coordinator.Coordinator

	// Out receives command output. Nil means stdout.
	Out io.Writer
	// AssumeYes skips interactive confirmations.
	AssumeYes bool

	remoteOpen bool
}

func (c *Context) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// Printf writes command output.
func (c *Context) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out(), format, args...)
}

// Println writes command output.
func (c *Context) Println(args ...interface{}) {
	fmt.Fprintln(c.out(), args...)
}

// Open initializes the local store. It is safe to call more than once.
func (c *Context) Open(ctx context.Context) error {
	return c.Store.Init(ctx)
}

// OpenRemote connects the remote backend when one is configured. A failure
// only leaves sync passes failing as unavailable.
func (c *Context) OpenRemote(ctx context.Context) {
	if c.Remote == nil || c.remoteOpen {
		return
	}
	if !network.Online(ctx, c.Network) {
		logger.Debug("skipping remote connection while offline")
		return
	}
	if err := c.Remote.Open(ctx); err != nil {
		logger.Warn("failed to connect to remote backend", "error", err)
		return
	}
	c.remoteOpen = true
}

// Close releases the remote connection and the store.
func (c *Context) Close() error {
	if c.Engine != nil {
		c.Engine.Wait()
	}
	if c.Remote != nil && c.remoteOpen {
		if err := c.Remote.Close(); err != nil {
			logger.Warn("failed to close remote connection", "error", err)
		}
		c.remoteOpen = false
	}
	return c.Store.Close()
}

// Confirm asks a yes/no question unless AssumeYes is set.
func (c *Context) Confirm(title, description string) (bool, error) {
	if c.AssumeYes {
		return true, nil
	}
	confirmed := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	return confirmed, nil
}

var (
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	DoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	PendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// StateLabel renders a sync state for terminal output.
func StateLabel(s syncer.SyncState) string {
	switch s {
	case syncer.StateSynced:
		return DoneStyle.Render(string(s))
	case syncer.StatePending, syncer.StateSyncing:
		return PendingStyle.Render(string(s))
	case syncer.StateError:
		return ErrorStyle.Render(string(s))
	default:
		return MutedStyle.Render(string(s))
	}
}
