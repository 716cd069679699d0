package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"clipvault/internal/app"
	"clipvault/internal/clip"
	"clipvault/internal/config"
	"clipvault/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "run", "evict").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewApp(cmd.Context(), cfg, app.Options{Operation: operation, Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echo, or reads one line
// from stdin when it is not a terminal.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// parseDate accepts a day ("2024-01-15") or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

var rootCmd = &cobra.Command{
	Use:          "clipvault",
	Short:        "Clipboard history backup",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID:   %s\n", hostID)
		fmt.Printf("Base Dir:  %s\n", defaults.BaseDir)
		fmt.Printf("Sync File: %s\n", cfg.Ingest.SyncFile)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the sync file, enforce the size ceiling and relay notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cmd, "run")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Run(ctx); err != nil {
			a.Fail()
			return err
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backup usage and limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "status")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status()
		if err != nil {
			return err
		}

		fmt.Printf("Backup Dir: %s\n", st.BackupDir)
		fmt.Printf("Usage:      %s of %s (%d files, %d registered)\n",
			config.FormatSize(st.TotalSize), config.FormatSize(st.Ceiling), st.Files, st.Artifacts)
		fmt.Printf("History:    %d records (max items %d, max days %d)\n", st.HistoryCount, st.MaxItems, st.MaxDays)
		vaultType := st.VaultType
		if vaultType == "" {
			vaultType = "none"
		}
		fmt.Printf("Vault:      %s (keys present: %v)\n", vaultType, st.KeysPresent)
		fmt.Printf("Notify:     %v\n", st.NotifyEnabled)
		return nil
	},
}

// store command
var storeCmd = &cobra.Command{
	Use:   "store PATH",
	Short: "Copy a file into the backup directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checksum, _ := cmd.Flags().GetString("checksum")

		a, err := newApp(cmd, "store")
		if err != nil {
			return err
		}
		defer a.Close()

		artifact, err := a.StoreFile(cmd.Context(), args[0], checksum)
		if err != nil {
			a.Fail()
			return fmt.Errorf("storing %s: %w", args[0], err)
		}

		fmt.Printf("%s  %s  %s\n", artifact.Checksum, config.FormatSize(artifact.Size), artifact.Path)
		return nil
	},
}

// evict command
var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Run one eviction and retention pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "evict")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.EvictOnce(cmd.Context())
		if err != nil {
			a.Fail()
			return err
		}

		for _, p := range report.Deleted {
			fmt.Printf("deleted  %s\n", p)
		}
		for _, p := range report.Failed {
			fmt.Printf("failed   %s\n", p)
		}
		fmt.Printf("%s -> %s (ceiling %s), %d history record(s) pruned\n",
			config.FormatSize(report.Before), config.FormatSize(report.After),
			config.FormatSize(report.Ceiling), report.Pruned)
		if report.OverCeiling() {
			fmt.Println("warning: still over the ceiling, no further candidates")
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View clipboard history",
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter model.HistoryFilter

		if s, _ := cmd.Flags().GetString("type"); s != "" {
			t, err := model.ParsePayloadType(s)
			if err != nil {
				return err
			}
			filter.Type = t
		}
		filter.SourceDevice, _ = cmd.Flags().GetString("device")
		if s, _ := cmd.Flags().GetString("from"); s != "" {
			t, err := parseDate(s)
			if err != nil {
				return err
			}
			filter.Since = t
		}
		if s, _ := cmd.Flags().GetString("until"); s != "" {
			t, err := parseDate(s)
			if err != nil {
				return err
			}
			filter.Until = t
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.Offset, _ = cmd.Flags().GetInt("offset")

		a, err := newApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.History(filter)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No clipboard history.")
			return nil
		}

		for _, r := range records {
			value := r.ClipboardValue
			if r.PayloadType == model.PayloadText {
				value = strings.ReplaceAll(value, "\n", "⏎")
				if len([]rune(value)) > 60 {
					value = string([]rune(value)[:60]) + "…"
				}
			}
			from := r.SourceDevice
			if from == "" {
				from = "-"
			}
			fmt.Printf("#%d  %s  %-5s  %-12s  %s\n",
				r.ID,
				r.Timestamp.Local().Format("2006-01-02 15:04:05"),
				r.PayloadType,
				from,
				value,
			)
		}
		return nil
	},
}

// settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage runtime limit overrides",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show overrides that are set",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "settings")
		if err != nil {
			return err
		}
		defer a.Close()

		all, err := a.Settings()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("No overrides set.")
			return nil
		}
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s = %s\n", k, all[k])
		}
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:       "get KEY",
	Short:     "Show one override",
	Args:      cobra.ExactArgs(1),
	ValidArgs: clip.SettingKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "settings")
		if err != nil {
			return err
		}
		defer a.Close()

		v, ok, err := a.GetSetting(args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("%s is not set (config value applies)\n", args[0])
			return nil
		}
		fmt.Println(v)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:       "set KEY VALUE",
	Short:     "Override a limit without restarting",
	Args:      cobra.ExactArgs(2),
	ValidArgs: clip.SettingKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "settings")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetSetting(args[0], args[1]); err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "keys")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if term.IsTerminal(int(os.Stdin.Fd())) {
			confirm, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if confirm != pass {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if err := a.InitKeys(pass); err != nil {
			a.Fail()
			return err
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Back up the history database to the vault",
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Encrypt and upload the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SnapshotPush(cmd.Context())
		if err != nil {
			a.Fail()
			return err
		}
		if !res.Uploaded {
			fmt.Printf("Vault already holds version %d.\n", res.Version)
			return nil
		}
		fmt.Printf("Uploaded version %d (%s).\n", res.Version, config.FormatSize(res.Size))
		return nil
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download and decrypt the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		abs, err := filepath.Abs(out)
		if err != nil {
			return fmt.Errorf("resolving output path: %w", err)
		}

		a, err := newApp(cmd, "snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		version, err := a.SnapshotPull(cmd.Context(), pass, abs)
		if err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Restored version %d to %s\n", version, abs)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// settings subcommands
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	// keys and snapshot subcommands
	keysCmd.AddCommand(keysInitCmd)
	snapshotCmd.AddCommand(snapshotPushCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
	snapshotPullCmd.Flags().StringP("out", "o", "history.db", "Where to write the decrypted database")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(storeCmd)
	storeCmd.Flags().String("checksum", "", "Expected content checksum (computed when empty)")
	rootCmd.AddCommand(evictCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringP("type", "t", "", "Only Text, Image, File or Group records")
	historyCmd.Flags().String("device", "", "Only records from this source device")
	historyCmd.Flags().String("from", "", "Only records at or after this date")
	historyCmd.Flags().String("until", "", "Only records before this date")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of records to show")
	historyCmd.Flags().Int("offset", 0, "Skip this many newest records")
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
}
