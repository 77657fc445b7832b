package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gocloud.dev/runtimevar"
	_ "gocloud.dev/runtimevar/constantvar" // constant:// references
	_ "gocloud.dev/runtimevar/filevar"     // file:// references
	// Cloud runtimevar drivers are opt-in; import them in the binary that
	// needs them, e.g. gocloud.dev/runtimevar/awssecretsmanager.
)

// SecretPrefix marks a config value as a reference to be resolved instead of
// used verbatim.
const SecretPrefix = "secret+"

// ResolveDSN turns a DSN reference into its value. Plain values pass through
// untouched, including sqlite file: and postgres:// DSNs. Values prefixed
// with "secret+" are resolved:
//
//	secret+env://PG_DSN            reads the PG_DSN environment variable
//	secret+file:///etc/creds/dsn   reads the file through gocloud runtimevar
//	secret+constant://?val=x       any other registered runtimevar scheme
//
// The resolved value is trimmed of surrounding whitespace, so newline-
// terminated secret files work as-is.
func ResolveDSN(ctx context.Context, ref string) (string, error) {
	target, ok := strings.CutPrefix(ref, SecretPrefix)
	if !ok {
		return ref, nil
	}
	if name, ok := strings.CutPrefix(target, "env://"); ok {
		value := os.Getenv(name)
		if value == "" {
			return "", fmt.Errorf("resolving %s: environment variable %s is empty", ref, name)
		}
		return strings.TrimSpace(value), nil
	}

	variable, err := runtimevar.OpenVariable(ctx, target)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	defer variable.Close()

	snapshot, err := variable.Latest(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	switch value := snapshot.Value.(type) {
	case string:
		return strings.TrimSpace(value), nil
	case []byte:
		return strings.TrimSpace(string(value)), nil
	default:
		return "", fmt.Errorf("resolving %s: unsupported value type %T", ref, snapshot.Value)
	}
}
