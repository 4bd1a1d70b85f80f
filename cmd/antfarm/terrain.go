package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antfarm-network/antfarm/internal/lifecycle"
)

func terrainCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terrain",
		Short: "Manage terrains",
	}
	cmd.AddCommand(terrainAddCmd(g))
	return cmd
}

func terrainAddCmd(g *globalFlags) *cobra.Command {
	var in lifecycle.TerrainInput
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create an approved terrain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			cfg, err := g.load()
			if err != nil {
				return err
			}
			db, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			engine := lifecycle.New(db, lifecycle.Options{MaturationThreshold: cfg.Lifecycle.MaturationThreshold})
			t, err := engine.AddTerrain(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "terrain %s created (%s)\n", t.Slug, t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Description, "description", "", "What belongs in the terrain")
	cmd.Flags().StringVar(&in.Slug, "slug", "", "Slug (derived from the name when empty)")
	cmd.Flags().StringVar(&in.Parent, "parent", "", "Slug of the parent terrain")
	return cmd
}
