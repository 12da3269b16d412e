package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"dataplane-signaling/backend/pkg/models"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables of the configured SQL store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			m, ok := store.(migrator)
			if !ok {
				return fmt.Errorf("store driver %q has no schema to migrate", cfg.Store.Driver)
			}
			if err := m.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("Schema is up to date", "store", cfg.Store.Driver)
			return nil
		},
	}
}

func newFlowsCmd(configPath *string) *cobra.Command {
	flows := &cobra.Command{
		Use:   "flows",
		Short: "Inspect stored data flows",
	}

	var (
		stateNames []string
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Print data flows in the given states as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			states, err := parseStates(stateNames)
			if err != nil {
				return err
			}

			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			signaling, err := newSignalingService(store, cfg, logger)
			if err != nil {
				return err
			}
			found, err := signaling.ListByState(cmd.Context(), states, limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, f := range found {
				if err := enc.Encode(f); err != nil {
					return err
				}
			}
			return nil
		},
	}
	list.Flags().StringSliceVar(&stateNames, "state", nil, "State to match (repeatable); all states when omitted")
	list.Flags().IntVar(&limit, "limit", 100, "Maximum number of flows to print (0 for no limit)")

	flows.AddCommand(list)
	return flows
}

func parseStates(names []string) ([]models.DataFlowState, error) {
	if len(names) == 0 {
		return models.AllStates, nil
	}
	states := make([]models.DataFlowState, 0, len(names))
	for _, name := range names {
		st, err := models.ParseDataFlowState(name)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}
