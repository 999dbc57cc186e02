// Command wdib is the single binary that drives one device's tick or
// enqueues a human message for the next one: debug logging to a file, env
// loaded once at entry, and cobra for subcommand wiring.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/LucPettett/what-do-i-become/internal/inbox"
	"github.com/LucPettett/what-do-i-become/internal/runtime"
	"github.com/LucPettett/what-do-i-become/internal/wdibenv"
	"github.com/LucPettett/what-do-i-become/internal/wdibpath"
)

func resolveDeviceIDForMessage(paths wdibpath.Paths) (string, error) {
	if err := wdibenv.LoadDotenv(paths.EnvFile); err != nil {
		return "", fmt.Errorf("loading .env: %w", err)
	}
	return wdibenv.ResolveDeviceID(paths)
}

// cliResult is the {ok, result|error} envelope every subcommand prints.
type cliResult struct {
	OK     bool `json:"ok"`
	Result any  `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func printResult(res cliResult, pretty bool) {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(res, "", "  ")
	} else {
		data, err = json.Marshal(res)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdib: encoding result: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func setupDebugLog(root string) func() {
	cacheDir := filepath.Join(root, ".wdib-cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.OpenFile(filepath.Join(cacheDir, "debug.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return func() {}
	}
	log.SetOutput(f)
	return func() { f.Close() }
}

func main() {
	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdib: resolving working directory: %v\n", err)
		os.Exit(1)
	}

	closeLog := setupDebugLog(root)
	defer closeLog()

	rootCmd := &cobra.Command{
		Use:           "wdib",
		Short:         "WDIB device control loop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newTickCmd(root), newMessageCmd(root))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wdib: %v\n", err)
		os.Exit(2)
	}
}

func newTickCmd(root string) *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one device cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := runtime.New(root)
			result, err := orch.RunTick(context.Background())
			if err != nil {
				printResult(cliResult{OK: false, Error: capError(err.Error())}, pretty)
				os.Exit(1)
			}
			printResult(cliResult{OK: true, Result: result}, pretty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "pretty-print the JSON result")
	return cmd
}

func newMessageCmd(root string) *cobra.Command {
	var text string
	var pretty bool
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Enqueue a human message for the next tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text is required")
			}
			paths := wdibpath.New(root)
			deviceID, err := resolveDeviceIDForMessage(paths)
			if err != nil {
				printResult(cliResult{OK: false, Error: capError(err.Error())}, pretty)
				os.Exit(1)
			}
			devicePaths := paths.Device(deviceID)
			if err := os.MkdirAll(devicePaths.Runtime, 0o755); err != nil {
				printResult(cliResult{OK: false, Error: capError(err.Error())}, pretty)
				os.Exit(1)
			}
			box := inbox.New(devicePaths.HumanMessage)
			if err := box.Enqueue(text); err != nil {
				printResult(cliResult{OK: false, Error: capError(err.Error())}, pretty)
				os.Exit(1)
			}
			printResult(cliResult{OK: true, Result: map[string]string{"device_id": deviceID}}, pretty)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "message body to deliver on the next tick")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "pretty-print the JSON result")
	return cmd
}

func capError(s string) string {
	const max = 2000
	if len(s) <= max {
		return s
	}
	return s[:max]
}
