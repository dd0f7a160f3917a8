package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kivi/kivi"
	"github.com/kivi/kivi/server"
)

var (
	dirPath             string
	addr                string
	adminAddr           string
	dataFileSize        int64
	compactionThreshold int64
	syncEveryWrite      bool
)

var rootCmd = &cobra.Command{
	Use:          "kivi-server",
	Short:        "Start a kivi key-value store server",
	Long:         "kivi-server serves a log-structured key-value store from a local\ndirectory over a TCP request/response protocol.",
	RunE:         runServer,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&dirPath, "dir", "d", "./kivi-data", "storage directory for data files")
	rootCmd.Flags().StringVarP(&addr, "addr", "a", ":6380", "address to listen on for client connections")
	rootCmd.Flags().StringVar(&adminAddr, "admin-addr", "", "address for the admin HTTP endpoint (/stats, /metrics); empty disables it")
	rootCmd.Flags().Int64Var(&dataFileSize, "segment-size", 0, "data file size in bytes before rotation (default 64MiB)")
	rootCmd.Flags().Int64Var(&compactionThreshold, "compaction-threshold", 0, "stale bytes before a background merge is scheduled (default 4MiB)")
	rootCmd.Flags().BoolVar(&syncEveryWrite, "sync-every-write", false, "fsync the active data file after every write")
}

func runServer(cmd *cobra.Command, args []string) error {
	var opts []kivi.Option
	if dataFileSize > 0 {
		opts = append(opts, kivi.WithDataFileSize(dataFileSize))
	}
	if compactionThreshold > 0 {
		opts = append(opts, kivi.WithCompactionThreshold(compactionThreshold))
	}
	if syncEveryWrite {
		opts = append(opts, kivi.WithSyncEveryWrite())
	}

	db, err := kivi.Open(dirPath, opts...)
	if err != nil {
		return fmt.Errorf("open store in %s: %w", dirPath, err)
	}

	srv := server.New(db, addr, adminAddr)
	if err = srv.Listen(); err != nil {
		_ = db.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("kivi server: received %v, shutting down", sig)
	case err = <-errCh:
		if err != nil {
			_ = db.Close()
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = srv.Shutdown(ctx); err != nil {
		log.Printf("kivi server: shutdown: %v", err)
	}
	return db.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
