package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"faqbot/internal/config"
	"faqbot/internal/conversation"
)

// Archive member names. Paths inside the archive are fixed so a backup can be
// restored onto a machine with a different layout.
const (
	backupConfigName  = "config.json"
	backupDatasetName = "dataset"
	backupDBName      = "conversations.db"
)

// backupTargets maps archive member names to local files for cfg.
func backupTargets(cfgPath string, cfg *config.Config) map[string]string {
	targets := map[string]string{backupConfigName: cfgPath}
	if cfg.FAQ.DatasetPath != "" {
		targets[backupDatasetName+filepath.Ext(cfg.FAQ.DatasetPath)] = cfg.FAQ.DatasetPath
	}
	if cfg.Conversation.Driver == conversation.DriverSQLite {
		db := cfg.Conversation.SQLitePath
		targets[backupDBName] = db
		targets[backupDBName+"-wal"] = db + "-wal"
		targets[backupDBName+"-shm"] = db + "-shm"
	}
	return targets
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config, FAQ dataset and SQLite conversation store",
		Long: `Creates a .tar.gz archive with the config file, the configured FAQ
dataset and, for the sqlite driver, the conversation database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, fmt.Sprintf("faqbot-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			files, err := createTarGz(outputPath, backupTargets(cfgPath, cfg))
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			for _, f := range files {
				fmt.Fprintf(out, "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.faqbot/backups/faqbot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore files from a backup archive",
		Long: `Restores the config file, FAQ dataset and conversation database from
an archive created by 'faqbot backup', to the paths of the current config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfigOrDefaults()
			if err != nil {
				return err
			}
			targets := backupTargets(cfgPath, cfg)
			if !force {
				for _, path := range targets {
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("%s exists, restore aborted (use --force to overwrite)", path)
					}
				}
			}

			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restored from: %s\n", args[0])
			for _, f := range restored {
				fmt.Fprintf(out, "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// createTarGz archives the existing files among targets and returns the
// member names written.
func createTarGz(outputPath string, targets map[string]string) ([]string, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	var written []string
	for name, path := range targets {
		err := addFileToTar(tarWriter, name, path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", path, err)
		}
		written = append(written, name)
	}
	if len(written) == 0 {
		return nil, fmt.Errorf("no files to back up")
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzWriter.Close(); err != nil {
		return nil, err
	}
	return written, nil
}

func addFileToTar(tw *tar.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes the archive members that have a target and skips
// the rest.
func extractTarGz(archivePath string, targets map[string]string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		target, ok := targets[header.Name]
		if !ok {
			continue
		}
		if err := writeFile(target, tarReader); err != nil {
			return nil, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}
