package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var flagAppPath string

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Download every depot found under a Steam app's install manifests",
	Long: `app scans --app-path for *.manifest files and a sibling config.vdf,
pairs each manifest's own depot id with that depot's decryption key, and
downloads them all into --save-path.`,
	RunE: runApp,
}

func init() {
	appCmd.SilenceErrors = true
	appCmd.SilenceUsage = true
	appCmd.Flags().StringVar(&flagAppPath, "app-path", "", "directory containing .manifest files and config.vdf (required)")
	_ = appCmd.MarkFlagRequired("app-path")
	rootCmd.AddCommand(appCmd)
}

func runApp(cmd *cobra.Command, args []string) error {
	jobs, err := scanAppDir(flagAppPath)
	if err != nil {
		return err
	}

	saveRoot := flagSavePath
	if saveRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		saveRoot = filepath.Join(cwd, filepath.Base(filepath.Clean(flagAppPath)))
	}
	if err := os.MkdirAll(saveRoot, 0o755); err != nil {
		return err
	}

	if err := runDownload(cmd.Context(), jobs, saveRoot); err != nil {
		return err
	}

	printSuccess("downloaded %d depot(s) into %s", len(jobs), saveRoot)
	return nil
}
