package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"preik/internal/chromemdb"
)

var errNotChromem = errors.New("vector backend is not chromem")

var vectorsCmd = &cobra.Command{
	Use:       "vectors [export|import|drop]",
	Short:     "manage a store's collection in the local chromem vector store",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"export", "import", "drop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetString("store")
		file, _ := cmd.Flags().GetString("file")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		manager, ok := a.vectors.(*chromemdb.VectorDBManager)
		if !ok {
			return fmt.Errorf("%w: %s", errNotChromem, cfg.Vector.Backend)
		}

		switch args[0] {
		case "export":
			path, err := manager.Export(cmd.Context(), storeID)
			if err != nil {
				return err
			}
			log.Info().Str("store_id", storeID).Str("file", path).Msg("Exported collection")
		case "import":
			if file == "" {
				return errors.New("--file is required")
			}
			if err := manager.Import(cmd.Context(), storeID, file); err != nil {
				return err
			}
			log.Info().Str("store_id", storeID).Str("file", file).Msg("Imported collection")
		case "drop":
			if err := manager.DeleteStore(storeID); err != nil {
				return err
			}
			log.Info().Str("store_id", storeID).Msg("Dropped collection")
		default:
			return fmt.Errorf("unknown action %q", args[0])
		}
		return nil
	},
}

func init() {
	vectorsCmd.Flags().String("store", "", "store id")
	vectorsCmd.Flags().String("file", "", "collection file for import")
	_ = vectorsCmd.MarkFlagRequired("store")

	rootCmd.AddCommand(vectorsCmd)
}
