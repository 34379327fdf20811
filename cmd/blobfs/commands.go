package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/brettbedarf/blobfs/filesystem"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
	"github.com/brettbedarf/blobfs/requests"
)

// withFS opens the filesystem, runs fn with the parsed path arguments and
// closes it again.
func withFS(fn func(cmd *cobra.Command, fs *filesystem.FileSystem, paths []fspath.Path) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		fs, err := openFS(cmd)
		if err != nil {
			return err
		}
		defer fs.Close()
		paths := make([]fspath.Path, 0, len(args))
		for _, a := range args {
			p, err := fs.GetPath(a)
			if err != nil {
				return err
			}
			paths = append(paths, p)
		}
		return fn(cmd, fs, paths)
	}
}

func newLsCmd() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List the children of a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: withFS(func(cmd *cobra.Command, fs *filesystem.FileSystem, paths []fspath.Path) error {
			ctx := cmdContext(cmd)
			dir, err := fs.GetPath(fs.DefaultRoot() + fspath.RootSuffix)
			if err != nil {
				return err
			}
			if len(paths) == 1 {
				dir = paths[0]
			}
			ds, err := fs.NewDirectoryStream(ctx, dir, nil)
			if err != nil {
				return err
			}
			defer ds.Close()
			it, err := ds.Iterator()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
			for e, err := range it.All() {
				if err != nil {
					return err
				}
				name := e.Name()
				if e.Kind == filesystem.EntryPrefix {
					name += "/"
				}
				if long {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Kind, e.Size, name)
				} else {
					fmt.Fprintln(tw, name)
				}
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show entry kind and size")
	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show the attributes of a path",
		Args:  cobra.ExactArgs(1),
		RunE: withFS(func(cmd *cobra.Command, fs *filesystem.FileSystem, paths []fspath.Path) error {
			ctx := cmdContext(cmd)
			st, err := fs.Status(ctx, paths[0])
			if err != nil {
				return err
			}
			attrs, err := fs.ReadAttributes(ctx, paths[0])
			if err != nil {
				return err
			}
			basic := attrs.Basic()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:     %s\n", paths[0])
			fmt.Fprintf(out, "status:   %s\n", st)
			fmt.Fprintf(out, "size:     %d\n", basic.Size)
			if !basic.LastModified.IsZero() {
				fmt.Fprintf(out, "modified: %s\n", basic.LastModified.Format(time.RFC3339))
			}
			views := make([]string, 0, 2)
			for _, v := range attrs.Views() {
				views = append(views, string(v))
			}
			fmt.Fprintf(out, "views:    %s\n", strings.Join(views, ","))
			if blob, err := attrs.Blob(); err == nil {
				fmt.Fprintf(out, "etag:     %s\n", blob.ETag)
				if blob.ContentType != "" {
					fmt.Fprintf(out, "type:     %s\n", blob.ContentType)
				}
			}
			return nil
		}),
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>...",
		Short: "Create directory markers",
		Args:  cobra.MinimumNArgs(1),
		RunE: withFS(func(cmd *cobra.Command, fs *filesystem.FileSystem, paths []fspath.Path) error {
			for _, p := range paths {
				if err := fs.CreateDirectory(cmdContext(cmd), p); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete files or empty directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: withFS(func(cmd *cobra.Command, fs *filesystem.FileSystem, paths []fspath.Path) error {
			for _, p := range paths {
				if err := fs.Delete(cmdContext(cmd), p); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func newCatCmd() *cobra.Command {
	var offset int64
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: withFS(func(cmd *cobra.Command, fs *filesystem.FileSystem, paths []fspath.Path) error {
			in, err := fs.NewInputStream(cmdContext(cmd), paths[0])
			if err != nil {
				return err
			}
			defer in.Close()
			if _, err := in.Skip(offset); err != nil {
				return err
			}
			_, err = io.Copy(cmd.OutOrStdout(), in)
			return err
		}),
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "Start reading at this byte offset")
	return cmd
}

// bindWriteFlags registers the flags that fill opts.
func bindWriteFlags(fl *pflag.FlagSet, opts *filesystem.WriteOptions) {
	fl.BoolVar(&opts.CreateNew, "no-clobber", false, "Fail if the target already exists")
	fl.StringVar(&opts.ContentType, "content-type", "", "Content type stored with the blob")
	fl.StringToStringVar(&opts.Metadata, "meta", nil, "Metadata stored with the blob, i.e. --meta owner=ops")
}

func newPutCmd() *cobra.Command {
	var opts filesystem.WriteOptions
	cmd := &cobra.Command{
		Use:   "put <local-file|-> <path>",
		Short: "Upload a local file, or stdin with -",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			return withFS(func(cmd *cobra.Command, fs *filesystem.FileSystem, paths []fspath.Path) error {
				out, err := fs.NewOutputStream(cmdContext(cmd), paths[0], opts)
				if err != nil {
					return err
				}
				if _, err := io.Copy(out, src); err != nil {
					out.Abort()
					return err
				}
				return out.Close()
			})(cmd, args[1:])
		},
	}
	bindWriteFlags(cmd.Flags(), &opts)
	return cmd
}

func newCpCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file, or create a directory marker for a directory",
		Args:  cobra.ExactArgs(2),
		RunE: withFS(func(cmd *cobra.Command, fs *filesystem.FileSystem, paths []fspath.Path) error {
			return fs.Copy(cmdContext(cmd), paths[0], paths[1], filesystem.CopyOptions{ReplaceExisting: replace})
		}),
	}
	cmd.Flags().BoolVarP(&replace, "force", "f", false, "Replace an existing target")
	return cmd
}

func newApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <nodes.json>",
		Short: "Create the directories and files described by a nodes def file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := openFS(cmd)
			if err != nil {
				return err
			}
			defer fs.Close()
			return applyNodes(cmd, fs, args[0])
		},
	}
}

// applyNodes loads a nodes def file and creates its entries in fs.
func applyNodes(cmd *cobra.Command, fs *filesystem.FileSystem, path string) error {
	logger := util.GetLogger("main")

	nodes, skipped, err := requests.LoadNodesFile(path)
	if err != nil {
		logger.Error().Err(err).Str("nodes", path).Msg("Failed to read nodes file")
		return err
	}
	if skipped > 0 {
		logger.Warn().Int("skipped", skipped).Str("nodes", path).Msg("Some node requests could not be parsed")
	}
	res, err := requests.Apply(cmdContext(cmd), fs, nodes)
	fmt.Fprintf(cmd.ErrOrStderr(), "created %d directories, %d files (%d existing left alone)\n", res.Dirs, res.Files, res.Skipped)
	return err
}
