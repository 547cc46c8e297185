package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/dmitrijs2005/firebox/internal/buildinfo"
	"github.com/dmitrijs2005/firebox/internal/client/config"
	"github.com/dmitrijs2005/firebox/internal/common"
	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/spf13/cobra"
)

// loadConfig is swapped in tests.
var loadConfig = config.LoadConfig

var flagVerbose bool

// session is what PersistentPreRunE hands to the subcommands.
type session struct {
	cfg    *config.Config
	log    *logging.SlogLogger
	closer io.Closer
}

// NewRootCmd builds the command tree. Settings are read by the config
// package, so cobra tolerates the flags it does not declare itself.
func NewRootCmd() *cobra.Command {
	s := &session{}

	cmd := &cobra.Command{
		Use:                "firebox",
		Short:              "Chunked file sync client",
		SilenceErrors:      true,
		SilenceUsage:       true,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			s.cfg = loadConfig()
			level := slog.LevelInfo
			if flagVerbose {
				level = slog.LevelDebug
			}
			s.log, s.closer = logging.NewTextLogger(s.cfg.LogFile, level)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if s.closer != nil {
				return s.closer.Close()
			}
			return nil
		},
	}
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newRunCmd(s))
	cmd.AddCommand(newScanCmd(s))
	cmd.AddCommand(newSyncCmd(s))
	cmd.AddCommand(newStatusCmd(s))
	cmd.AddCommand(newVersionCmd())

	for _, sub := range cmd.Commands() {
		sub.FParseErrWhitelist = cmd.FParseErrWhitelist
	}
	return cmd
}

// withApp opens the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, s *session, fn func(a *App) error) error {
	a, err := NewApp(cmd.Context(), s.cfg, s.log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newRunCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Scan, then keep the sync directory in sync until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, s, func(a *App) error {
				s.log.Info(cmd.Context(), "Starting firebox", "sync_dir", s.cfg.SyncDir, "server", s.cfg.ServerURL)
				return a.Run(cmd.Context())
			})
		},
	}
}

func newScanCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Upload every new or changed file once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, s, func(a *App) error {
				if err := a.Scan(cmd.Context()); err != nil {
					return fmt.Errorf("scan: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "scan complete")
				return nil
			})
		},
	}
}

func newSyncCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull and apply remote changes once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, s, func(a *App) error {
				res, err := a.Sync(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d files updated, cursor %s\n", res.UpdatedFiles, common.FormatTime(res.Cursor))
				return nil
			})
		},
	}
}

func newStatusCmd(s *session) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the local index holds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, s, func(a *App) error {
				st, err := a.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(st)
				}
				fmt.Fprintf(out, "Sync dir:        %s\n", s.cfg.SyncDir)
				fmt.Fprintf(out, "Folders:         %d\n", st.Folders)
				fmt.Fprintf(out, "Files:           %d (%d pending)\n", st.Files, st.PendingFiles)
				fmt.Fprintf(out, "Chunks:          %d (%d unsynced)\n", st.Chunks, st.UnsyncedChunks)
				fmt.Fprintf(out, "Last sync:       %s\n", st.LastSyncTime)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
			return nil
		},
	}
}
