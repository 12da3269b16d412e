package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"dataplane-signaling/backend/internal/config"
	"dataplane-signaling/backend/internal/controlplane"
	"dataplane-signaling/backend/pkg/models"
)

func newControlPlaneClient(ctx context.Context, cfg *config.Config) *controlplane.Client {
	return controlplane.NewClient(ctx, controlplane.Config{
		BaseURL:       cfg.ControlPlane.BaseURL,
		ControlAPIURL: cfg.ControlPlane.ControlAPIURL,
		DataplaneID:   cfg.Runtime.DataplaneID,
		Timeout:       cfg.ControlPlane.Timeout,
		TokenURL:      cfg.ControlPlane.TokenURL,
		ClientID:      cfg.ControlPlane.ClientID,
		ClientSecret:  cfg.ControlPlane.ClientSecret,
	})
}

func dataPlaneInstance(cfg *config.Config) *models.DataPlaneInstance {
	return &models.DataPlaneInstance{
		ID:                   cfg.Runtime.DataplaneID,
		URL:                  cfg.Registration.URL,
		AllowedSourceTypes:   cfg.Registration.AllowedSourceTypes,
		AllowedTransferTypes: cfg.Registration.AllowedTransferTypes,
		LastActive:           time.Now().UnixMilli(),
	}
}

func newDataplanesCmd(configPath *string) *cobra.Command {
	dataplanes := &cobra.Command{
		Use:   "dataplanes",
		Short: "Manage this data plane's registration with the control plane",
	}

	var (
		url           string
		sourceTypes   []string
		transferTypes []string
	)
	register := &cobra.Command{
		Use:   "register",
		Short: "Register the data plane with the control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			instance := dataPlaneInstance(cfg)
			if cmd.Flags().Changed("url") {
				instance.URL = url
			}
			if cmd.Flags().Changed("source-type") {
				instance.AllowedSourceTypes = sourceTypes
			}
			if cmd.Flags().Changed("transfer-type") {
				instance.AllowedTransferTypes = transferTypes
			}

			resp, err := newControlPlaneClient(cmd.Context(), cfg).RegisterDataPlane(cmd.Context(), instance)
			if err != nil {
				return err
			}
			logger.Info("Registered data plane", "dataplane_id", instance.ID)
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		},
	}
	register.Flags().StringVar(&url, "url", "", "Signaling API URL of this data plane")
	register.Flags().StringSliceVar(&sourceTypes, "source-type", nil, "Allowed source type (repeatable)")
	register.Flags().StringSliceVar(&transferTypes, "transfer-type", nil, "Allowed transfer type (repeatable)")

	unregister := &cobra.Command{
		Use:   "unregister [id]",
		Short: "Mark a data plane as unavailable",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataplaneID(cmd, *configPath, args, (*controlplane.Client).UnregisterDataPlane)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Remove a data plane from the control plane",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDataplaneID(cmd, *configPath, args, (*controlplane.Client).DeleteDataPlane)
		},
	}

	dataplanes.AddCommand(register, unregister, deleteCmd)
	return dataplanes
}

// withDataplaneID runs op against the id in args, or the configured data plane id.
func withDataplaneID(cmd *cobra.Command, configPath string, args []string,
	op func(*controlplane.Client, context.Context, string) error) error {
	cfg, logger, err := loadRuntime(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	id := cfg.Runtime.DataplaneID
	if len(args) == 1 {
		id = args[0]
	}
	if err := op(newControlPlaneClient(cmd.Context(), cfg), cmd.Context(), id); err != nil {
		return err
	}
	logger.Info("Control API request completed", "command", cmd.Name(), "dataplane_id", id)
	return nil
}
