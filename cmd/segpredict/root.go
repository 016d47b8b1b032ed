package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "segpredict",
	Short: "segpredict runs a pretrained segmentation model over a dataset",
	Long: `segpredict runs a pretrained classification/segmentation model over a
dataset and writes one self-describing artifact per sample containing the
full probability volume, the argmax prediction, the ground truth, and the
source image path.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (optional)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
}
