package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lib-x/facetrack/cv"
	"github.com/lib-x/facetrack/internal/log"
)

var (
	modelsDir        string
	modelsProxy      string
	modelsAll        bool
	modelsSkipVerify bool
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage detector and encoder model files",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the downloadable models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tFILE\tDESCRIPTION")
		for _, key := range cv.ModelKeys() {
			m := cv.AvailableModels[key]
			fmt.Fprintf(w, "%s\t%s\t%s\n", key, m.Filename, m.Description)
		}
		return w.Flush()
	},
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download [key...]",
	Short: "Download models into the model directory",
	Long: `Download the named models. Without keys the models the default cv
engine needs are fetched, trying mirrors in turn.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Engine.ModelDir
		if cmd.Flags().Changed("dir") {
			dir = modelsDir
		}
		md := cv.NewModelDownloader(dir)
		md.ProxyURL = cfg.Engine.Proxy
		if cmd.Flags().Changed("proxy") {
			md.ProxyURL = modelsProxy
		}
		md.SkipVerification = modelsSkipVerify
		md.Logger = log.L()
		md.OnProgress = progressReporter(os.Stderr)

		ctx := cmd.Context()
		switch {
		case modelsAll:
			return md.DownloadAll(ctx)
		case len(args) == 0:
			return md.DownloadRequired(ctx)
		}
		for _, key := range args {
			if err := md.Download(ctx, key); err != nil {
				return err
			}
		}
		return nil
	},
}

// progressReporter draws one byte progress bar per downloaded file.
func progressReporter(w io.Writer) cv.ProgressCallback {
	var (
		bar       *progressbar.ProgressBar
		lastTotal int64
		lastDone  int64
	)
	return func(p cv.DownloadProgress) {
		if bar == nil || p.Total != lastTotal || p.Downloaded < lastDone {
			if bar != nil {
				bar.Finish()
				fmt.Fprintln(w)
			}
			total := p.Total
			if total <= 0 {
				total = -1
			}
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription("Downloading"),
				progressbar.OptionSetWriter(w),
				progressbar.OptionShowBytes(true),
				progressbar.OptionShowCount(),
			)
		}
		lastTotal, lastDone = p.Total, p.Downloaded
		bar.Set64(p.Downloaded)
	}
}

func init() {
	modelsDownloadCmd.Flags().StringVar(&modelsDir, "dir", "models", "output directory (default from config)")
	modelsDownloadCmd.Flags().StringVar(&modelsProxy, "proxy", "", "socks5://, http:// or https:// proxy")
	modelsDownloadCmd.Flags().BoolVar(&modelsAll, "all", false, "download every known model")
	modelsDownloadCmd.Flags().BoolVar(&modelsSkipVerify, "skip-verify", false, "skip checksum verification")
	modelsCmd.AddCommand(modelsListCmd, modelsDownloadCmd)
	rootCmd.AddCommand(modelsCmd)
}
