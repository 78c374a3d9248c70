package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ext2m/ext2m/pkg/elog"
)

var (
	release = "0.0.0"
	commit  = ""
)

var (
	flagDebug bool
	logger    elog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ext2m",
	Short: "Manage minimal ext2 volumes on raw disk images",
	Long: `ext2m operates directly on fixed-size raw disk images: it can format an
image into a valid ext2 layout, report the volume's superblock and
geometry, and list the root directory.`,
	Version: release + " " + commit,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagDebug {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	logrus.SetLevel(logrus.InfoLevel)
	logger = elog.NewCLI()

	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(lsCmd)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
