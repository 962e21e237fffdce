package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/bluart/pkg/config"
)

// favoritesCmd represents the favorites command
var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "Manage pinned devices",
	Long: `Pinned devices are marked in scan output and sort first. The list is
stored in the per-user config directory.`,
	RunE: runFavoritesList,
}

var favoriteName string

var favoritesAddCmd = &cobra.Command{
	Use:   "add <device-address>",
	Short: "Pin a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		favorites, err := openFavorites()
		if err != nil {
			return err
		}
		if err := favorites.Add(args[0], favoriteName); err != nil {
			return err
		}
		fmt.Printf("Pinned %s\n", args[0])
		return nil
	},
}

var favoritesRemoveCmd = &cobra.Command{
	Use:     "rm <device-address>",
	Aliases: []string{"remove"},
	Short:   "Unpin a device",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		favorites, err := openFavorites()
		if err != nil {
			return err
		}
		removed, err := favorites.Remove(args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%s is not pinned", args[0])
		}
		fmt.Printf("Unpinned %s\n", args[0])
		return nil
	},
}

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pinned devices",
	RunE:  runFavoritesList,
}

func init() {
	favoritesAddCmd.Flags().StringVarP(&favoriteName, "name", "n", "", "Display name for the device")
	favoritesCmd.AddCommand(favoritesAddCmd)
	favoritesCmd.AddCommand(favoritesRemoveCmd)
	favoritesCmd.AddCommand(favoritesListCmd)
}

func openFavorites() (*config.Favorites, error) {
	return config.OpenFavorites(config.DefaultFavoritesPath())
}

func runFavoritesList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	favorites, err := openFavorites()
	if err != nil {
		return err
	}

	entries := favorites.List()
	if len(entries) == 0 {
		fmt.Println("No pinned devices")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\n", entry.Address, entry.Name)
	}
	return tw.Flush()
}
