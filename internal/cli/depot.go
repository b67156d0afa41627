package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"depotdl/internal/depotkey"
	depoterrors "depotdl/internal/errors"
	"depotdl/internal/manifest"
)

var (
	flagManifestPaths []string
	flagDepotKeys     []string
)

var depotCmd = &cobra.Command{
	Use:   "depot",
	Short: "Download one or more depots given explicit manifest/key pairs",
	Long: `depot pairs each -m manifest path with the -k decryption key at the
same position and downloads them all into --save-path.`,
	RunE: runDepot,
}

func init() {
	depotCmd.SilenceErrors = true
	depotCmd.SilenceUsage = true
	depotCmd.Flags().StringArrayVarP(&flagManifestPaths, "manifest", "m", nil, "manifest file path; repeatable")
	depotCmd.Flags().StringArrayVarP(&flagDepotKeys, "key", "k", nil, "hex-encoded depot decryption key; repeatable, paired positionally with --manifest")
	rootCmd.AddCommand(depotCmd)
}

func runDepot(cmd *cobra.Command, args []string) error {
	jobs, err := pairManifestsAndKeys(flagManifestPaths, flagDepotKeys)
	if err != nil {
		return err
	}

	saveRoot := flagSavePath
	if saveRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		saveRoot = cwd
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

// pairManifestsAndKeys zips manifest paths and hex keys positionally,
// decoding each manifest and overriding its depot key with the one supplied
// at the matching index: the decryption key always comes from the caller,
// never from whatever a manifest stand-in happens to embed.
func pairManifestsAndKeys(manifestPaths, hexKeys []string) ([]manifestJob, error) {
	if len(manifestPaths) == 0 || len(manifestPaths) != len(hexKeys) {
		return nil, depoterrors.ErrNoManifests
	}

	jobs := make([]manifestJob, 0, len(manifestPaths))
	for i, path := range manifestPaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", path, err)
		}

		m, err := manifest.JSONDecoder{}.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode manifest %s: %w", path, err)
		}

		key, err := depotkey.Parse(hexKeys[i])
		if err != nil {
			return nil, fmt.Errorf("depot key %d: %w", i, err)
		}
		m.Depot.Key = key

		jobs = append(jobs, manifestJob{ManifestPath: filepath.Clean(path), Manifest: m})
	}
	return jobs, nil
}
