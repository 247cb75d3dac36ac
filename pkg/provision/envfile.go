package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opengantry/opengantry/pkg/config"
)

// Environment file locations on the instance. The canonical path is owned
// by the orchestrator; the alias is where deployed applications look.
const (
	EnvFilePath    = "/etc/gantry/resources.env"
	EnvFileAlias   = "/srv/app/shared/.env"
	envFileComment = "# Managed resource environment. Regenerated every deployment run.\n"
)

// writeEnvironment renders all resolved resources into one key=value file,
// uploads it with owner-only permissions, and points the stable alias at
// it. The values are live secrets; 0600 is not optional.
func (p *Provisioner) writeEnvironment(ctx context.Context, sess Session, resources []ResolvedResource) error {
	content := RenderEnvironment(resources)

	if err := sess.Put(ctx, []byte(content), EnvFilePath, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", EnvFilePath, err)
	}
	if err := sess.Symlink(ctx, EnvFilePath, EnvFileAlias); err != nil {
		return fmt.Errorf("linking %s: %w", EnvFileAlias, err)
	}

	p.log.Info().Int("resources", len(resources)).Str("path", EnvFilePath).Msg("environment file written")
	return nil
}

// RenderEnvironment formats resolved resources as a key=value document.
// Keys are sorted for a stable file across runs with identical facts.
func RenderEnvironment(resources []ResolvedResource) string {
	vars := make(map[string]string)
	for _, r := range resources {
		switch r.Kind {
		case config.ResourceDatabase:
			vars["DATABASE_HOST"] = r.Host
			vars["DATABASE_PORT"] = fmt.Sprintf("%d", r.Port)
			vars["DATABASE_NAME"] = r.DBName
			vars["DATABASE_USER"] = r.Username
			vars["DATABASE_PASSWORD"] = r.Password
			vars["DATABASE_URL"] = r.DSN()
		case config.ResourceBucket:
			vars["BUCKET_NAME"] = r.BucketName
			vars["BUCKET_REGION"] = r.Region
		}
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(envFileComment)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, vars[k])
	}
	return b.String()
}

// Redacted renders the resource for operator-facing output with secret
// fields masked.
func (r *ResolvedResource) Redacted() string {
	switch r.Kind {
	case config.ResourceDatabase:
		return fmt.Sprintf("database %s: %s:%d/%s user=%s password=<redacted>",
			r.Name, r.Host, r.Port, r.DBName, r.Username)
	case config.ResourceBucket:
		return fmt.Sprintf("bucket %s: region=%s", r.BucketName, r.Region)
	default:
		return r.Name
	}
}
