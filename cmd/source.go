package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage discovery sources",
}

var (
	sourceAddName       string
	sourceAddType       string
	sourceAddExternalID string
)

var sourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a discovery source",
	Long: `Registers a cloud account or seed host as a discovery source. Cloud
credentials are read from the provider's usual environment variables
(AWS_ACCESS_KEY_ID, GOOGLE_PROJECT_ID, AZURE_SUBSCRIPTION_ID and friends);
non-cloud sources are seeded from --external-id or --name.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceType := types.SourceType(sourceAddType)
		source := &types.Source{
			Name:       sourceAddName,
			Type:       sourceType,
			ExternalID: sourceAddExternalID,
			Active:     true,
		}

		if sourceType.Cloud() {
			creds := credentialsFromEnv(sourceType)
			if err := creds.Validate(); err != nil {
				return err
			}
			source.Credentials = creds
		}

		if err := store.SaveSource(cmd.Context(), source); err != nil {
			return err
		}
		fmt.Printf("source %s registered\n", source.ID)
		return nil
	},
}

func credentialsFromEnv(provider types.SourceType) types.Credentials {
	creds := types.Credentials{Provider: provider}
	switch provider {
	case types.SourceTypeAWS:
		creds.AWS = &types.AWSCredentials{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		}
	case types.SourceTypeGCP:
		creds.GCP = &types.GCPCredentials{
			ProjectID:          os.Getenv("GOOGLE_PROJECT_ID"),
			ServiceAccountJSON: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"),
		}
	case types.SourceTypeAzure:
		creds.Azure = &types.AzureCredentials{
			SubscriptionID: os.Getenv("AZURE_SUBSCRIPTION_ID"),
			TenantID:       os.Getenv("AZURE_TENANT_ID"),
			ClientID:       os.Getenv("AZURE_CLIENT_ID"),
			ClientSecret:   os.Getenv("AZURE_CLIENT_SECRET"),
		}
	}
	return creds
}

func init() {
	sourceAddCmd.Flags().StringVar(&sourceAddName, "name", "", "display name for the source")
	sourceAddCmd.Flags().StringVar(&sourceAddType, "type", string(types.SourceTypeManual), "source type (AWS, GCP, AZURE, GITHUB, GITLAB, MANUAL)")
	sourceAddCmd.Flags().StringVar(&sourceAddExternalID, "external-id", "", "provider account id or seed hostname")
	sourceAddCmd.MarkFlagRequired("name")

	sourceCmd.AddCommand(sourceAddCmd)
	rootCmd.AddCommand(sourceCmd)
}
