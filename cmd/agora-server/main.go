/*
Copyright Agora Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agorafed/agora/cmd/agora-server/startcmd"
)

var logger = log.New("agora-server")

func main() {
	rootCmd := &cobra.Command{
		Use: "agora-server",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to run Agora server.", log.WithError(err))
	}
}
