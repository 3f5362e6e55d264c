package main

import (
	"github.com/scriptguard/scriptguard/internal/auditworker/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()
	cmd.Execute(rootCmd)
}
