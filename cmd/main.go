package main

import (
	"os"

	"npuprof/pkg/logger"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
