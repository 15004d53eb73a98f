package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var translateCmd = &cobra.Command{
	Use:   "translate <text>",
	Short: "Translate text via the configured translation service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("to")
		result, err := apiDo("POST", "/v1/translate", map[string]string{
			"text":        args[0],
			"target_lang": target,
		})
		if err != nil {
			return err
		}
		fmt.Println(result["translated_text"])
		return nil
	},
}

func init() {
	translateCmd.Flags().String("to", "en", "target language code")
	rootCmd.AddCommand(translateCmd)
}
