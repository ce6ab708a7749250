package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pilosa/mds/cmd"
)

func main() {
	// a .env file is optional; absence is not an error
	_ = godotenv.Load()

	// honor the conventional GitHub variable names as fallbacks
	if os.Getenv("MDS_TOKEN") == "" && os.Getenv("GITHUB_TOKEN") != "" {
		os.Setenv("MDS_TOKEN", os.Getenv("GITHUB_TOKEN"))
	}
	if os.Getenv("MDS_ORG") == "" && os.Getenv("GITHUB_ORG") != "" {
		os.Setenv("MDS_ORG", os.Getenv("GITHUB_ORG"))
	}

	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
