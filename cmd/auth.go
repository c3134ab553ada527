package cmd

import (
    "os"
    "strings"

    "github.com/spf13/cobra"

    "metricdrop/internal/ui"
    "metricdrop/pkg/errors"
)

var authToken string

var authCmd = &cobra.Command{
    Use:   "auth",
    Short: "Manage the stored warehouse token",
    Long: `Store the warehouse access token in the OS keyring, or in an encrypted file under
~/.metricdrop/credentials when no keyring is available. A token in metricdrop.yaml or
METRICDROP_WAREHOUSE_TOKEN takes precedence over the stored one.`,
}

var authLoginCmd = &cobra.Command{
    Use:   "login",
    Short: "Store a warehouse access token",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        token := strings.TrimSpace(authToken)
        if token == "" {
            if !ui.Interactive() {
                return errors.ValidationError("token", "", "pass --token when not running in a terminal")
            }
            var err error
            token, err = ui.Password("Warehouse access token:", "A personal access token for the SQL warehouse")
            if err != nil {
                return errors.Wrap(err, errors.ErrCodeInternal, "Token prompt failed")
            }
        }

        store := newCredentialStore()
        if err := store.Set(tokenCredential, token); err != nil {
            return err
        }

        where := "encrypted credential file"
        if store.UsesKeyring() {
            where = "OS keyring"
        }
        ui.ShowSuccess("Warehouse token stored in the " + where)
        logger.InfoWithFields("warehouse token stored", map[string]interface{}{"keyring": store.UsesKeyring()})
        return nil
    },
}

var authLogoutCmd = &cobra.Command{
    Use:   "logout",
    Short: "Remove the stored warehouse token",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        if err := newCredentialStore().Delete(tokenCredential); err != nil {
            return err
        }
        ui.ShowSuccess("Warehouse token removed")
        return nil
    },
}

var authStatusCmd = &cobra.Command{
    Use:   "status",
    Short: "Show where the warehouse token comes from",
    Args:  cobra.NoArgs,
    RunE: func(cmd *cobra.Command, args []string) error {
        switch {
        case os.Getenv("METRICDROP_WAREHOUSE_TOKEN") != "":
            ui.ShowInfo("Using METRICDROP_WAREHOUSE_TOKEN")
        case appConfig.Warehouse.Token != "":
            ui.ShowInfo("Using the token from the configuration file")
        default:
            if _, err := newCredentialStore().Get(tokenCredential); err != nil {
                ui.ShowWarning("No warehouse token configured")
                return nil
            }
            ui.ShowSuccess("Using the stored warehouse token")
        }
        return nil
    },
}

func init() {
    rootCmd.AddCommand(authCmd)
    authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)

    authLoginCmd.Flags().StringVar(&authToken, "token", "", "Token to store (prompted for when omitted)")
}
