// Package main provides the meetnotes entry point.
// meetnotes turns meeting recordings into transcripts, summaries and action
// items, and answers questions across everything it has processed.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetnotes/cmd"
	"github.com/otherjamesbrown/meetnotes/config"
	"github.com/otherjamesbrown/meetnotes/pkg/buildinfo"
)

// Global flags and state.
var (
	cfgFile      string
	outputFormat string
	debug        bool

	// cfg holds the loaded configuration.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meetnotes",
	Short: "meetnotes - meeting recordings to notes, action items and answers",
	Long: `meetnotes turns meeting recordings into transcripts, summaries and action
items, links meetings to calendar events, and answers questions across
everything it has processed.

Every AI stage degrades instead of failing: a meeting always reaches Ready,
with each stage's outcome recorded.

COMMON WORKFLOWS:
  Run the API:       meetnotes serve
  Process a file:    meetnotes meeting submit standup.m4a --title "Standup"
  Ask a question:    meetnotes meeting ask "When is the launch?"
  Store a key:       meetnotes auth set-key llm
  Queue workers:     meetnotes worker

DISCOVERY:
  meetnotes <command> --help   Subcommands, flags, and examples for any command
  meetnotes config show        Effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		var err error
		if cfgFile != "" {
			cfg, err = config.LoadConfigFrom(cfgFile)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		// Override with command-line flags.
		if outputFormat != "" {
			cfg.OutputFormat = config.OutputFormat(outputFormat)
			if !cfg.OutputFormat.IsValid() {
				return fmt.Errorf("invalid output format %q: must be text, json, or yaml", outputFormat)
			}
		}
		if debug {
			cfg.Logging.Level = "debug"
		}

		cmd.SetConfig(cfg)
		return nil
	},
}

// Version command flags.
var (
	versionServer     bool
	versionOutputJSON bool
	versionChangelog  bool
)

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of meetnotes.

Use --server to also query the configured API server.
Use --changelog to show commits since the last tag.

Examples:
  meetnotes version                   Show CLI version only
  meetnotes version --server          Include the running server's version
  meetnotes version --changelog       Show commits since last tag
  meetnotes version --output-json     Output as JSON`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildinfo.Get("meetnotes")
		out := cmd.OutOrStdout()

		if versionChangelog {
			return printChangelog(out)
		}

		infos := []buildinfo.Info{info}
		var serverErr error
		if versionServer {
			loaded, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			addr := "http://" + net.JoinHostPort(loaded.Server.Host, strconv.Itoa(loaded.Server.Port))
			remote, err := fetchVersion(addr + "/version")
			if err != nil {
				serverErr = err
				remote = buildinfo.Info{ServiceName: "meetnotes-server", Version: "unreachable"}
			}
			infos = append(infos, remote)
		}

		if versionOutputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if versionServer {
				return enc.Encode(infos)
			}
			return enc.Encode(info)
		}

		if !versionServer {
			fmt.Fprintf(out, "meetnotes version %s\n", info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
			return nil
		}

		fmt.Fprintf(out, "%-25s %-12s %-10s %s\n", "SERVICE", "VERSION", "COMMIT", "BUILT")
		for _, i := range infos {
			commit := i.Commit
			if len(commit) > 10 {
				commit = commit[:10]
			}
			built := i.BuildTime
			if len(built) > 20 {
				built = built[:20]
			}
			fmt.Fprintf(out, "%-25s %-12s %-10s %s\n", i.ServiceName, i.Version, valueOrDefault(commit, "-"), valueOrDefault(built, "-"))
		}
		if serverErr != nil {
			fmt.Fprintf(out, "\nserver: %v\n", serverErr)
		}
		return nil
	},
}

func fetchVersion(url string) (buildinfo.Info, error) {
	var info buildinfo.Info
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(url)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&info)
	return info, err
}

// changeEntry is one line of `git log --oneline`.
type changeEntry struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// gitChanges lists commits since the most recent tag, or the whole history
// when the repository has no tags.
func gitChanges() ([]changeEntry, error) {
	rev := "HEAD"
	if tag, err := exec.Command("git", "describe", "--tags", "--abbrev=0").Output(); err == nil {
		if t := strings.TrimSpace(string(tag)); t != "" {
			rev = t + "..HEAD"
		}
	}
	log, err := exec.Command("git", "log", "--oneline", rev).Output()
	if err != nil {
		return nil, fmt.Errorf("reading git log: %w", err)
	}
	return parseOneline(string(log)), nil
}

func parseOneline(log string) []changeEntry {
	entries := []changeEntry{}
	for _, line := range strings.Split(strings.TrimSpace(log), "\n") {
		hash, msg, ok := strings.Cut(line, " ")
		if ok {
			entries = append(entries, changeEntry{Hash: hash, Message: msg})
		}
	}
	return entries
}

func printChangelog(out io.Writer) error {
	entries, err := gitChanges()
	if err != nil {
		return err
	}
	if versionOutputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No commits since last tag.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s %s\n", e.Hash, e.Message)
	}
	return nil
}

// configCmd manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and create the meetnotes configuration file.`,
}

// configShowCmd displays current configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration: defaults, then the config file, then
MEETNOTES_* environment variables. Secrets are never part of the config file;
see 'meetnotes auth status'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			var err error
			cfg, err = config.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		if cfg.OutputFormat == config.OutputFormatJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		}

		configPath := cfgFile
		if configPath == "" {
			configPath, _ = config.ConfigPath()
		}
		fmt.Fprintf(out, "# Config file: %s\n", configPath)
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

var configInitForce bool

// configInitCmd initializes configuration.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with default values if one doesn't exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := cfgFile
		if configPath == "" {
			var err error
			configPath, err = config.ConfigPath()
			if err != nil {
				return fmt.Errorf("getting config path: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		if _, err := os.Stat(configPath); err == nil && !configInitForce {
			fmt.Fprintf(out, "Configuration file already exists: %s\n", configPath)
			fmt.Fprintln(out, "Use 'meetnotes config show' to view current settings, or --force to overwrite.")
			return nil
		}

		defaultCfg := config.DefaultConfig()
		if err := config.SaveConfigTo(defaultCfg, configPath); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(out, "Created configuration file: %s\n", configPath)
		fmt.Fprintln(out, "\nDefault settings:")
		fmt.Fprintf(out, "  Listen:        %s:%d\n", defaultCfg.Server.Host, defaultCfg.Server.Port)
		fmt.Fprintf(out, "  Storage:       %s (%s)\n", defaultCfg.Storage.Driver, defaultCfg.Storage.SQLitePath)
		fmt.Fprintf(out, "  Recordings:    %s\n", defaultCfg.Blob.Dir)
		fmt.Fprintf(out, "  Model:         %s\n", defaultCfg.LLM.Model)
		fmt.Fprintln(out, "\nNext: store a provider key with 'meetnotes auth set-key llm'.")
		return nil
	},
}

func valueOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.meetnotes/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "Default output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	versionCmd.Flags().BoolVar(&versionServer, "server", false, "Also query the configured API server")
	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")
	versionCmd.Flags().BoolVar(&versionChangelog, "changelog", false, "Show commits since last tag")

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cmd.ServeCmd)
	rootCmd.AddCommand(cmd.WorkerCmd)
	rootCmd.AddCommand(cmd.MeetingCmd)
	rootCmd.AddCommand(cmd.AuthCmd)
	rootCmd.AddCommand(cmd.NewDbCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
