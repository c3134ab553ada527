package cmd

import (
    "fmt"
    "os"
    "path/filepath"

    "github.com/spf13/cobra"
    "gopkg.in/yaml.v3"

    "metricdrop/internal/common"
    "metricdrop/internal/config"
    "metricdrop/internal/ui"
    "metricdrop/pkg/errors"
)

var configBackup bool

var encryptConfigCmd = &cobra.Command{
    Use:   "encrypt-config [file]",
    Short: "Encrypt the warehouse token in the configuration file",
    Long: `Replace a plaintext warehouse.token in metricdrop.yaml with an AES-256-GCM
encrypted ENC[...] value. The rest of the file, comments included, is kept.

The encryption key is derived from:
1. METRICDROP_ENCRYPTION_KEY environment variable (if set)
2. Machine-specific identifier (hostname + home directory)`,
    Args:        cobra.MaximumNArgs(1),
    Annotations: map[string]string{skipSetup: "true"},
    RunE:        runEncryptConfig,
}

func init() {
    rootCmd.AddCommand(encryptConfigCmd)

    encryptConfigCmd.Flags().BoolVar(&configBackup, "backup", true, "Create backup of original config")
}

func runEncryptConfig(cmd *cobra.Command, args []string) error {
    configFile := "metricdrop.yaml"
    switch {
    case len(args) == 1:
        configFile = args[0]
    case cfgFile != "":
        configFile = cfgFile
    }

    cleanPath, err := common.CleanPath(configFile)
    if err != nil {
        return errors.Wrap(err, errors.ErrCodeValidationFailed, "Invalid config path")
    }
    data, err := os.ReadFile(cleanPath) // #nosec G304 - path is cleaned
    if err != nil {
        return errors.Wrap(err, errors.ErrCodeConfigNotFound, fmt.Sprintf("Failed to read %s", configFile))
    }

    var doc yaml.Node
    if err := yaml.Unmarshal(data, &doc); err != nil {
        return errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to parse config file")
    }

    token := findNode(&doc, "warehouse", "token")
    if token == nil || token.Value == "" {
        ui.ShowInfo("No warehouse.token found; nothing to encrypt")
        return nil
    }
    if config.IsEncrypted(token.Value) {
        ui.ShowInfo("Token is already encrypted")
        return nil
    }

    encrypted, err := config.EncryptSecret(token.Value)
    if err != nil {
        return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encrypt token")
    }
    token.Value = encrypted
    token.Style = yaml.DoubleQuotedStyle

    if configBackup {
        backupFile := cleanPath + ".backup"
        if err := os.WriteFile(backupFile, data, common.FilePermissionSecure); err != nil {
            return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to create backup")
        }
        ui.ShowSuccess(fmt.Sprintf("Created backup: %s", filepath.Base(backupFile)))
    }

    out, err := yaml.Marshal(&doc)
    if err != nil {
        return errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode config file")
    }
    if err := os.WriteFile(cleanPath, out, common.FilePermissionSecure); err != nil {
        return errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to save encrypted config")
    }

    ui.ShowSuccess("Warehouse token encrypted")
    ui.ShowInfo("METRICDROP_WAREHOUSE_TOKEN still overrides the file at runtime")
    return nil
}

// findNode walks mapping keys from the document root.
func findNode(doc *yaml.Node, path ...string) *yaml.Node {
    node := doc
    if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
        node = node.Content[0]
    }
    for _, key := range path {
        if node.Kind != yaml.MappingNode {
            return nil
        }
        var next *yaml.Node
        for i := 0; i+1 < len(node.Content); i += 2 {
            if node.Content[i].Value == key {
                next = node.Content[i+1]
                break
            }
        }
        if next == nil {
            return nil
        }
        node = next
    }
    return node
}
