package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key commands",
}

var apikeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random API key",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(generateRandomString(32))
	},
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash [key]",
	Short: "Print the bcrypt hash of an API key for api.api_key_hash",
	Long: `Print the bcrypt hash of an API key. The key is read from stdin when
no argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAPIKeyHash,
}

func init() {
	apikeyCmd.AddCommand(apikeyGenerateCmd, apikeyHashCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}

	hash, err := hashAPIKey(key)
	if err != nil {
		return err
	}

	fmt.Println(hash)
	return nil
}

func hashAPIKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}

	return string(hash), nil
}
