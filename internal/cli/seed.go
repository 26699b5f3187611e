package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Tchosco/toi700game-sub002/internal/seed"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <world.yaml>",
		Short: "Load territories, cells and balances into the database",
		Long: `Load a world file into the database.

The file lists territories with their cells, blocs, eras, tick summaries
and opening ledger balances. Seeding is for bootstrapping a world; it does
not record events.

Example:
  toi700 seed --db ./world.db ./world.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := formatter(rootOpts, cmd)
			out.VerboseLog("seeding %s from %s", a.cfg.DatabasePath, args[0])
			if err := seed.ApplyFile(commandContext(cmd), a.store, a.service.Ledger(), args[0], time.Now().UTC()); err != nil {
				return WrapExitError(ExitCommandError, "failed to seed world", err)
			}
			return out.Success(map[string]string{"seeded": args[0], "database": a.cfg.DatabasePath})
		},
	}
}
