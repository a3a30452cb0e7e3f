// Package main provides a one-shot utility for user grant key generation.
//
// It emits the asymmetric keypair used to sign and verify user grants.
package main

import (
	"os"

	"github.com/ferrolab/agentgate/internal/platform/config"
	"github.com/ferrolab/agentgate/internal/tools/grantkey"
)

func main() {
	if err := grantkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate user grant key: %v", err)
	}
}
