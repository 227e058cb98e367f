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

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"opguard/internal/config"
)

// artifact is one file covered by backup and restore. Name is the entry name
// inside the archive.
type artifact struct {
	Name string
	Path string
}

// artifacts lists the files opguard owns for the config at cfgPath. When the
// config cannot be loaded the defaults decide where audit data lives.
func artifacts(cfgPath string) []artifact {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	db := cfg.AuditDBPath()
	return []artifact{
		{Name: "config.yml", Path: cfgPath},
		{Name: "logs.txt", Path: cfg.AuditFilePath()},
		{Name: "audit.db", Path: db},
		{Name: "audit.db-wal", Path: db + "-wal"},
		{Name: "audit.db-shm", Path: db + "-shm"},
	}
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config, allow-list and audit data",
		Long: `Creates a compressed .tar.gz archive containing config.yml (with the
blocked-commands and allowed-players lists), the audit log file and the
audit database. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if outputPath == "" {
				backupDir := filepath.Join(filepath.Dir(cfgPath), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("opguard-backup-%s.tar.gz", ts))
			}

			var present []artifact
			for _, a := range artifacts(cfgPath) {
				if _, err := os.Stat(a.Path); err == nil {
					present = append(present, a)
				}
			}
			if len(present) == 0 {
				return fmt.Errorf("no files to back up (config: %s)", cfgPath)
			}

			if err := createTarGz(outputPath, present); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Backup created: %s\n", outputPath)
			for _, a := range present {
				size := uint64(0)
				if info, err := os.Stat(a.Path); err == nil {
					size = uint64(info.Size())
				}
				fmt.Fprintf(w, "  - %s (%s)\n", a.Name, humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <config dir>/backups/opguard-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore config and audit data from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			targets := artifacts(cfgPath)

			if !force {
				for _, a := range targets {
					if _, err := os.Stat(a.Path); err == nil {
						return fmt.Errorf("%s exists, restore aborted (use --force to overwrite)", a.Path)
					}
				}
			}

			restored, err := extractTarGz(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Restored from %s\n", args[0])
			for _, p := range restored {
				fmt.Fprintf(w, "  - %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func createTarGz(outputPath string, files []artifact) (err error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := outFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)
	for _, a := range files {
		if err := addFileToTar(tarWriter, a); err != nil {
			return fmt.Errorf("add %s: %w", a.Path, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func addFileToTar(tw *tar.Writer, a artifact) error {
	file, err := os.Open(a.Path)
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
	header.Name = a.Name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes every known entry of the archive to its target path.
// Unknown entries are skipped.
func extractTarGz(archivePath string, targets []artifact) ([]string, error) {
	byName := make(map[string]string, len(targets))
	for _, a := range targets {
		byName[a.Name] = a.Path
	}

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
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, err
		}

		target, ok := byName[header.Name]
		if !ok || header.Typeflag != tar.TypeReg {
			logger.Warn("skipping archive entry", "name", header.Name)
			continue
		}
		if err := writeEntry(target, tarReader, os.FileMode(header.Mode).Perm()); err != nil {
			return restored, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func writeEntry(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}
