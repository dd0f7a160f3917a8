package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kivi/kivi/client"
)

var addr string

var rootCmd = &cobra.Command{
	Use:          "kivi-cli",
	Short:        "Command line client for a kivi server",
	SilenceUsage: true,
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get the value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.Dial(addr)
		if err != nil {
			return err
		}
		defer c.Close()

		value, found, err := c.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("Key not found")
			return nil
		}
		fmt.Println(string(value))
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set the value of a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.Dial(addr)
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Set([]byte(args[0]), []byte(args[1]))
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm KEY",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.Dial(addr)
		if err != nil {
			return err
		}
		defer c.Close()

		if err = c.Remove([]byte(args[0])); err != nil {
			if errors.Is(err, client.ErrKeyNotFound) {
				return errors.New("Key not found")
			}
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", "127.0.0.1:6380", "address of the kivi server")
	rootCmd.AddCommand(getCmd, setCmd, rmCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
