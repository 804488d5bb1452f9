package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var callArgs string

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Invoke a tool",
	Long: `Invoke a tool and print its text content.

Example:
  ssectl call add_numbers --args '{"a":5,"b":3}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callArgs, "args", "{}", "tool arguments as a JSON object")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	var arguments map[string]any
	if err := json.Unmarshal([]byte(callArgs), &arguments); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	s, err := connect(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.CallTool(cmd.Context(), args[0], arguments)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Text())
	if result.IsError {
		return errors.New("tool reported an error")
	}
	return nil
}
