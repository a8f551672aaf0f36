/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Starchild13/KinectaComms/internal/tensor"
)

func newAssetsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "Show which model and labels would be used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.source()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "source:    %s\n", src.Name())
			fmt.Fprintf(w, "available: %t\n", src.Available())
			if !src.Available() {
				return nil
			}

			labels, err := src.LoadLabels()
			if err != nil {
				return err
			}
			model, err := src.LoadModel()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "labels:    %d\n", len(labels))
			fmt.Fprintf(w, "model:     %d bytes\n", len(model))
			return nil
		},
	}
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.cfg)
			if err != nil {
				return errors.Wrap(err, "encode config")
			}
			if used := a.loader.FileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "resamplers",
		Short: "List the available resize kernels",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range tensor.ResamplerNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	})
	return cmd
}
