package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nasdesk/nasdesk/internal/events"
	"github.com/nasdesk/nasdesk/internal/models"
	"github.com/nasdesk/nasdesk/internal/progress"
	"github.com/nasdesk/nasdesk/internal/transfer"
)

// runConnected builds the app from flags, logs in, runs fn and logs out.
func runConnected(fn func(ctx context.Context, a *app) error) error {
	a, err := newAppFromFlags()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := GetContext()
	if _, err := a.connect(ctx, a.credentialSource()); err != nil {
		return err
	}
	return fn(ctx, a)
}

// list runs a list job and waits for its entries.
func (a *app) list(ctx context.Context, remotePath string) ([]models.FileEntry, error) {
	d := events.NewDispatcher(a.bus)
	defer d.Close()

	job := a.coord.SubmitList(remotePath)
	if err := awaitJobs(ctx, d, job); err != nil {
		return nil, err
	}
	if err := job.Err(); err != nil {
		return nil, describe("List "+job.Remote, err)
	}
	return job.Entries(), nil
}

// runTransfers renders progress for the jobs submit starts and waits for all
// of them. Failures are printed by the renderer and summarised in the error.
func (a *app) runTransfers(ctx context.Context, count int, submit func() []*transfer.Job) error {
	d := events.NewDispatcher(a.bus)
	defer d.Close()

	sink := a.sink(count)
	progress.Attach(d, sink)

	jobs := submit()
	err := awaitJobs(ctx, d, jobs...)
	if err != nil {
		a.coord.Shutdown()
		d.Drain()
	}
	if ui, ok := sink.(*progress.TransferUI); ok {
		ui.Wait()
	}
	if err != nil {
		return err
	}
	printHints(a.out, jobs)
	return failures(jobs)
}

func printEntries(w io.Writer, entries []models.FileEntry) {
	fmt.Fprintf(w, "%-16s %10s  %-19s  %s\n", "TYPE", "SIZE", "MODIFIED", "NAME")
	for _, e := range entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		fmt.Fprintf(w, "%-16s %10s  %-19s  %s\n", e.TypeDisplay(), e.SizeDisplay(), e.ModTimeDisplay(), name)
	}
}

func newSharesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shares",
		Short: "List the shared folders you can access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnected(func(ctx context.Context, a *app) error {
				shares, err := a.list(ctx, "/")
				if err != nil {
					return err
				}
				printEntries(a.out, shares)
				return nil
			})
		},
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder (the shares when no path is given)",
		Example: `  nasdesk ls
  nasdesk ls /photos/2024`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := "/"
			if len(args) == 1 {
				remote = args[0]
			}
			return runConnected(func(ctx context.Context, a *app) error {
				entries, err := a.list(ctx, remote)
				if err != nil {
					return err
				}
				printEntries(a.out, entries)
				return nil
			})
		},
	}
}

// expandGlobPatterns expands patterns like *.jpg, even when the shell left
// them quoted, and drops duplicates.
func expandGlobPatterns(patterns []string) ([]string, error) {
	var expanded []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		matches := []string{pattern}
		if strings.ContainsAny(pattern, "*?[]") {
			var err error
			matches, err = filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no files match pattern: %s", pattern)
			}
		}
		for _, match := range matches {
			absPath, err := filepath.Abs(match)
			if err != nil {
				return nil, fmt.Errorf("failed to get absolute path for %s: %w", match, err)
			}
			if !seen[absPath] {
				expanded = append(expanded, absPath)
				seen[absPath] = true
			}
		}
	}
	return expanded, nil
}

// checkUploadSources fails early on missing files and folders.
func checkUploadSources(paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", p)
		}
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("'%s' is a folder; only files can be uploaded", p)
		}
	}
	return nil
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file> [file...] <remote-folder>",
		Short: "Upload files into a NAS folder, replacing files of the same name",
		Example: `  nasdesk upload report.pdf /docs
  nasdesk upload "*.jpg" /photos/2024`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteDir := args[len(args)-1]
			files, err := expandGlobPatterns(args[:len(args)-1])
			if err != nil {
				return err
			}
			if err := checkUploadSources(files); err != nil {
				return err
			}

			return runConnected(func(ctx context.Context, a *app) error {
				return a.runTransfers(ctx, len(files), func() []*transfer.Job {
					jobs := make([]*transfer.Job, 0, len(files))
					for _, f := range files {
						jobs = append(jobs, a.coord.SubmitUpload(f, remoteDir))
					}
					return jobs
				})
			})
		},
	}
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <remote-file> [local-path]",
		Short: "Download a file from the NAS",
		Long: `Download a file from the NAS.

The local path defaults to the file name in the current directory. When it
names an existing folder the file is saved inside it. Data is written to
"<name>.part" and renamed once complete.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := ""
			if len(args) == 2 {
				local = args[1]
			}
			return runConnected(func(ctx context.Context, a *app) error {
				return a.runTransfers(ctx, 1, func() []*transfer.Job {
					return []*transfer.Job{a.coord.SubmitDownload(args[0], local)}
				})
			})
		},
	}
}

func newThumbnailCmd() *cobra.Command {
	var (
		mode   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "thumbnail <remote-image>",
		Short: "Render the thumbnail of an image on the NAS as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewMode, err := models.ParseViewMode(mode)
			if err != nil {
				return err
			}
			if output == "" {
				base := models.RemoteBase(args[0])
				output = strings.TrimSuffix(base, filepath.Ext(base)) + ".thumb.png"
			}

			return runConnected(func(ctx context.Context, a *app) error {
				img, err := a.thumbnail(ctx, args[0], viewMode)
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, img, 0644); err != nil {
					return fmt.Errorf("failed to write thumbnail: %w", err)
				}
				fmt.Fprintf(a.out, "✓ Wrote %s (%dpx, %s)\n", output, viewMode.ThumbnailSize(), models.FormatFileSize(int64(len(img))))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "medium", "Display mode: list, tile, small, medium or large")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output PNG file (default <name>.thumb.png)")
	return cmd
}

// thumbnail runs a thumbnail job and returns the PNG.
func (a *app) thumbnail(ctx context.Context, remote string, mode models.ViewMode) ([]byte, error) {
	d := events.NewDispatcher(a.bus)
	defer d.Close()

	job := a.coord.SubmitThumbnail(remote, mode)
	if err := awaitJobs(ctx, d, job); err != nil {
		return nil, err
	}
	if err := job.Err(); err != nil {
		return nil, describe("Thumbnail "+job.Name, err)
	}
	img, _ := job.Thumbnail()
	return img, nil
}

func newPreviewCmd() *cobra.Command {
	var (
		open bool
		keep bool
	)

	cmd := &cobra.Command{
		Use:   "preview <remote-file>",
		Short: "Fetch a temporary copy of a file to look at",
		Long: `Fetch a temporary copy of a file to look at.

The copy is removed when you press Enter, unless --keep is given.
With --open it is handed to the system's default application.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnected(func(ctx context.Context, a *app) error {
				var job *transfer.Job
				err := a.runTransfers(ctx, 1, func() []*transfer.Job {
					job = a.coord.SubmitPreview(args[0])
					return []*transfer.Job{job}
				})
				if err != nil {
					return err
				}

				p := job.Preview()
				fmt.Fprintf(a.out, "Preview copy: %s\n", p.Path)
				if open {
					if err := openWithDefaultApp(p.Path); err != nil {
						a.logger.Warnf("Could not open %s: %v", p.Path, err)
					}
				}
				if keep {
					return nil
				}
				if a.prompt != nil {
					_, _ = a.prompt.Line("Press Enter to remove the preview copy")
				}
				return p.Close()
			})
		},
	}

	cmd.Flags().BoolVar(&open, "open", false, "Open the copy with the default application")
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave the copy in the temp directory")
	return cmd
}
