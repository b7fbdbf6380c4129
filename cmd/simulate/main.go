package main

import (
	"os"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	apiBaseURL   string
	patientLimit int
	doctorLimit  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "simulate",
		Short: "Drive concurrent traffic against the scheduling API",
		Long: `Drive concurrent traffic against a running api-server.

Patients and doctors are loaded from the same Postgres database the
api-server uses (POSTGRES_DSN), so run cmd/seed first.

Examples:
  simulate race --workers 50 --time 09:00
  simulate load --duration 1m --workers 20`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.apiBaseURL, "api", envOr("SIM_API_BASE_URL", "http://localhost:8080"), "base URL of the api-server")
	root.PersistentFlags().IntVar(&opts.patientLimit, "patients", 4000, "maximum number of patients to load")
	root.PersistentFlags().IntVar(&opts.doctorLimit, "doctors", 50, "maximum number of doctors to load")

	root.AddCommand(newRaceCmd(opts), newLoadCmd(opts))
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
