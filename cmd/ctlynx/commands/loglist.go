package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/ctlynx/internal/logstore"
	"github.com/bl4ck0w1/ctlynx/pkg/models"
	"github.com/bl4ck0w1/ctlynx/pkg/utils"
)

func NewLogListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loglist",
		Short: "Inspect the CT log list the checks run against",
		Long: `Fetch (or read from a file) the CT log list, print its version,
freshness verdict and per-operator log counts, and optionally export a
summary as JSON or YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogList(cmd.Context())
		},
	}

	cmd.Flags().String("file", "", "Load the log list from a local JSON file")
	cmd.Flags().String("url", "", "Fetch the log list from this URL")
	cmd.Flags().String("export", "", "Export a summary to this path (.json or .yaml)")
	cmd.Flags().Bool("logs", false, "Print every log, not just operator counts")

	_ = viper.BindPFlag("loglist.file", cmd.Flags().Lookup("file"))
	_ = viper.BindPFlag("loglist.url", cmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("loglist.export", cmd.Flags().Lookup("export"))
	_ = viper.BindPFlag("loglist.logs", cmd.Flags().Lookup("logs"))

	return cmd
}

type logListSummary struct {
	Version   string            `json:"version" yaml:"version"`
	Published time.Time         `json:"published" yaml:"published"`
	State     models.StoreState `json:"state" yaml:"state"`
	Logs      int               `json:"logs" yaml:"logs"`
	Operators []operatorSummary `json:"operators" yaml:"operators"`
}

type operatorSummary struct {
	Name string       `json:"name" yaml:"name"`
	Logs []logSummary `json:"logs" yaml:"logs"`
}

type logSummary struct {
	Description string          `json:"description" yaml:"description"`
	LogID       string          `json:"log_id" yaml:"log_id"`
	URL         string          `json:"url,omitempty" yaml:"url,omitempty"`
	State       models.LogState `json:"state" yaml:"state"`
}

func runLogList(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := loadLogListStore(ctx)
	if err != nil {
		return err
	}

	summary := summarize(store)

	fmt.Printf("Log list version: %s\n", summary.Version)
	fmt.Printf("Published:        %s (%s ago)\n", summary.Published.Format(time.RFC3339), utils.HumanizeDuration(time.Since(summary.Published)))
	fmt.Printf("Freshness:        %s\n", summary.State)
	fmt.Printf("Known logs:       %d across %d operators\n\n", summary.Logs, len(summary.Operators))

	showLogs := viper.GetBool("loglist.logs")
	for _, op := range summary.Operators {
		fmt.Printf("  %-28s %d logs\n", op.Name, len(op.Logs))
		if showLogs {
			for _, l := range op.Logs {
				fmt.Printf("    %-10s %s\n", l.State, l.Description)
			}
		}
	}

	if path := viper.GetString("loglist.export"); path != "" {
		if err := exportSummary(path, summary); err != nil {
			return err
		}
		fmt.Printf("\nExported summary to %s\n", path)
	}
	return nil
}

func loadLogListStore(ctx context.Context) (*logstore.Store, error) {
	if path := firstNonEmpty(viper.GetString("loglist.file"), viper.GetString("log_list_file")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read log list: %w", err)
		}
		return logstore.Load(data, logrus.StandardLogger())
	}

	url := firstNonEmpty(viper.GetString("loglist.url"), viper.GetString("log_list_url"))
	return logstore.NewUpdater(url, nil, logrus.StandardLogger()).Refresh(ctx)
}

func summarize(store *logstore.Store) *logListSummary {
	summary := &logListSummary{
		Version:   fmt.Sprintf("%d.%d", store.MajorVersion(), store.MinorVersion()),
		Published: store.Metadata().Time(),
		State:     store.State(),
		Logs:      store.Len(),
	}

	var current *operatorSummary
	for _, log := range store.Logs() {
		if current == nil || current.Name != log.Operator {
			summary.Operators = append(summary.Operators, operatorSummary{Name: log.Operator})
			current = &summary.Operators[len(summary.Operators)-1]
		}
		current.Logs = append(current.Logs, logSummary{
			Description: log.Description,
			LogID:       log.LogIDHex(),
			URL:         log.URL,
			State:       log.State,
		})
	}
	return summary
}

func exportSummary(path string, summary *logListSummary) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := yaml.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		return utils.SafeWriteFile(path, data, 0o644)
	case ".json":
		return utils.WriteFileJSON(path, summary, true)
	default:
		return fmt.Errorf("unsupported export format %q, use .json or .yaml", filepath.Ext(path))
	}
}
