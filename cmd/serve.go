package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tlarkin/revu/internal/api"
	"github.com/tlarkin/revu/internal/daemon"
)

var serveDaemon bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing the review engine as a REST API.
By default it listens on port 8080. Use --port to change it, or -d to
run detached in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveDaemon {
			return serveDaemonize()
		}
		return serveRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a background API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a background API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		pf := daemon.NewPIDFile(servePIDPath())
		if pid, running := pf.IsRunning(); running {
			ui.Success("Server running (pid %d)", pid)
		} else {
			ui.Info("Server not running")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().BoolVarP(&serveDaemon, "daemon", "d", false, "Run in the background")
	viper.SetDefault("port", 8080)
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func servePIDPath() string {
	return filepath.Join(viper.GetString("state_dir"), "revu-serve.pid")
}

func serveRun() error {
	pf := daemon.NewPIDFile(servePIDPath())
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	m, err := getManager()
	if err != nil {
		return err
	}

	if err := pf.Write(); err != nil {
		ui.Warning("Could not write PID file: %v", err)
	}
	defer func() { _ = pf.Remove() }()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("port")),
		Handler: api.NewServer(dataStore, m).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Serving API at http://localhost%s\n", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// serveDaemonize re-executes the binary detached, without the -d flag.
func serveDaemonize() error {
	pf := daemon.NewPIDFile(servePIDPath())
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	child := exec.Command(exe, "serve", "--port", fmt.Sprintf("%d", viper.GetInt("port")))
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}
	ui.Success("Server started in background (pid %d)", child.Process.Pid)
	return nil
}

func serveStopRun() error {
	pf := daemon.NewPIDFile(servePIDPath())
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Server not running")
		_ = pf.Remove()
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	// Give it a moment to shut down cleanly before escalating.
	for i := 0; i < 20; i++ {
		if _, still := pf.IsRunning(); !still {
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	ui.Warning("Server killed (pid %d)", pid)
	return nil
}
