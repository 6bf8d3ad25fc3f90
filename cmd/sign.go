// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/signature"
	"github.com/LeeDigitalWorks/blobgate/pkg/utils"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a URL for a bucket",
	Long: `Appends the signed-link parameters to --url and signs it with the bucket's key.

Example:
  blobgate sign --bucket photos --method GET --url https://files.example.com/blob/files/0192a0c4`,
	RunE: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().String("bucket", "", "Public bucket id (required)")
	signCmd.Flags().String("method", http.MethodGet, "HTTP method the link is valid for")
	signCmd.Flags().String("url", "", "Absolute URL to sign (required)")
	signCmd.Flags().String("expire-in", "", "Link lifetime, ISO-8601 (PT1M) or Go (1m); empty keeps the bucket's link_expire_time")
	signCmd.MarkFlagRequired("bucket")
	signCmd.MarkFlagRequired("url")
}

func runSign(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	publicID := f.String("bucket")

	reg, err := bucket.LoadRegistry(viper.GetViper())
	if err != nil {
		return err
	}
	b, ok := reg.ByPublicID(publicID)
	if !ok {
		return fmt.Errorf("bucket %q is not configured", publicID)
	}

	var expireIn time.Duration
	if s := f.String("expire-in"); s != "" {
		if expireIn, err = utils.ParseDuration(s); err != nil {
			return err
		}
	}

	raw, err := signature.NewURL(f.String("url"), signature.URLParams{
		BucketID: b.BucketID,
		Method:   strings.ToUpper(f.String("method")),
		ExpireIn: expireIn,
	})
	if err != nil {
		return err
	}
	signed, err := signature.SignURL(b.Key, raw)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), signed)
	return nil
}
