/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jjudge-oj/mediastore/config"
	"github.com/jjudge-oj/mediastore/internal/logging"
	"github.com/jjudge-oj/mediastore/internal/storage"
)

var (
	storageBucket string
	getStart      int64
	getLength     int64
)

// storageCmd groups one-shot operations against the configured backend.
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Run operations against the configured storage backend",
	Long: `Run bucket and file operations against the backend selected by the
STORAGE_* environment. File commands act on --bucket, which defaults to
STORAGE_BUCKETNAME.`,
}

var storageTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the backend accepts the configured credentials",
	Args:  cobra.NoArgs,
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		if err := st.Test(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s backend ok\n", st.Kind())
		return nil
	}),
}

var storageBucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List buckets",
	Args:  cobra.NoArgs,
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		buckets, err := st.ListBuckets(ctx)
		if err != nil {
			return err
		}
		for _, b := range buckets {
			fmt.Fprintln(cmd.OutOrStdout(), b)
		}
		return nil
	}),
}

var storageCreateCmd = &cobra.Command{
	Use:   "create [bucket]",
	Short: "Create a bucket",
	Args:  cobra.MaximumNArgs(1),
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		return st.CreateBucket(ctx, bucketArg(args))
	}),
}

var storageClearCmd = &cobra.Command{
	Use:   "clear [bucket]",
	Short: "Remove every file from a bucket",
	Args:  cobra.MaximumNArgs(1),
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		return st.ClearBucket(ctx, bucketArg(args))
	}),
}

var storageDeleteCmd = &cobra.Command{
	Use:   "delete [bucket]",
	Short: "Delete a bucket and its contents",
	Args:  cobra.MaximumNArgs(1),
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		return st.DeleteBucket(ctx, bucketArg(args))
	}),
}

var storageLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files in the bucket",
	Args:  cobra.NoArgs,
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		files, err := st.Bucket(bucket).ListFiles(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, f := range files {
			fmt.Fprintf(tw, "%d\t%s\t\n", f.Size, f.Path)
		}
		return tw.Flush()
	}),
}

var storagePutCmd = &cobra.Command{
	Use:   "put <source> <target>",
	Short: "Upload a local file",
	Args:  cobra.ExactArgs(2),
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		return st.Bucket(bucket).AddFileFromPath(ctx, args[0], args[1])
	}),
}

var storageGetCmd = &cobra.Command{
	Use:   "get <name> [destination]",
	Short: "Download a file, or part of it, to a path or stdout",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		rc, err := st.Bucket(bucket).GetFileByteRange(ctx, args[0], getStart, getLength)
		if err != nil {
			return err
		}
		defer rc.Close()

		var out io.Writer = cmd.OutOrStdout()
		if len(args) == 2 {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		_, err = io.Copy(out, rc)
		return err
	}),
}

var storageRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a file",
	Args:  cobra.ExactArgs(1),
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		return st.Bucket(bucket).RemoveFile(ctx, args[0])
	}),
}

var storageSizeCmd = &cobra.Command{
	Use:   "size <name>",
	Short: "Print the size of a file in bytes",
	Args:  cobra.ExactArgs(1),
	RunE: withStorage(func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error {
		size, err := st.Bucket(bucket).SizeOf(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), size)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(
		storageTestCmd,
		storageBucketsCmd,
		storageCreateCmd,
		storageClearCmd,
		storageDeleteCmd,
		storageLsCmd,
		storagePutCmd,
		storageGetCmd,
		storageRmCmd,
		storageSizeCmd,
	)

	storageCmd.PersistentFlags().StringVarP(&storageBucket, "bucket", "b", "", "bucket to operate on (default STORAGE_BUCKETNAME)")
	storageGetCmd.Flags().Int64Var(&getStart, "start", 0, "byte offset to start reading at")
	storageGetCmd.Flags().Int64Var(&getLength, "length", storage.ToEnd, "number of bytes to read (-1 reads to the end)")
}

type storageRunFunc func(ctx context.Context, cmd *cobra.Command, st *storage.Storage, bucket string, args []string) error

// withStorage opens the configured backend for the duration of one command.
// An explicit --bucket replaces the configured selection.
func withStorage(run storageRunFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg := config.LoadConfig()
		if storageBucket != "" {
			cfg.Storage.BucketName = storageBucket
		}

		st, err := storage.New(ctx, cfg.Storage, storage.WithLogger(logging.L().Named("storage")))
		if err != nil {
			return err
		}
		defer st.Close()

		return run(ctx, cmd, st, st.SelectedBucket(), args)
	}
}

func bucketArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
