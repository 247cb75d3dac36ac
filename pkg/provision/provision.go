package provision

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengantry/opengantry/pkg/config"
	"github.com/opengantry/opengantry/pkg/controlplane"
	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// Session is the slice of the session manager the provisioner needs.
type Session interface {
	Run(ctx context.Context, cmd ssh.Command) (*ssh.ExecResult, error)
	Put(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error
	Symlink(ctx context.Context, target, linkPath string) error
}

// ResolvedResource holds the live connection facts for one declared
// resource. The snapshot is immutable once returned; later stages only
// read it.
type ResolvedResource struct {
	Kind   config.ResourceKind
	Name   string
	Host   string
	Port   int
	DBName string

	// Credential fields, databases only. Fetched fresh every run so
	// provider-side rotation is honored.
	Username string
	Password string

	// Bucket fields.
	BucketName string
	Region     string
}

// DSN renders the Postgres connection string for a database resource.
func (r *ResolvedResource) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=require",
		r.Username, r.Password, r.Host, r.Port, r.DBName)
}

// ProvisionError is fatal for the run: application start-up must not be
// attempted against an unreachable or unresolvable backing resource.
type ProvisionError struct {
	Resource string
	Kind     config.ResourceKind
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %s %q: %v", e.Kind, e.Resource, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

const (
	availabilityTimeout = 10 * time.Minute
	availabilityPoll    = 15 * time.Second
)

// Provisioner resolves declared external resources through the control
// plane and writes the resulting facts onto the target instance.
type Provisioner struct {
	db         controlplane.DatabaseAPI
	buckets    controlplane.BucketAPI
	pinger     Pinger
	instanceID string
	poll       time.Duration
	log        zerolog.Logger
}

// New creates a provisioner for one target instance.
func New(db controlplane.DatabaseAPI, buckets controlplane.BucketAPI, pinger Pinger, instanceID string, log zerolog.Logger) *Provisioner {
	if pinger == nil {
		pinger = &PostgresPinger{}
	}
	return &Provisioner{
		db:         db,
		buckets:    buckets,
		pinger:     pinger,
		instanceID: instanceID,
		poll:       availabilityPoll,
		log:        log.With().Str("component", "provision").Logger(),
	}
}

// ResolveAll resolves every declared resource in order and writes the
// combined environment file to the instance. Any single failure aborts with
// a ProvisionError.
func (p *Provisioner) ResolveAll(ctx context.Context, specs []config.ResourceSpec, sess Session) ([]ResolvedResource, error) {
	resolved := make([]ResolvedResource, 0, len(specs))
	for _, spec := range specs {
		r, err := p.Resolve(ctx, spec)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, *r)
	}

	if len(resolved) > 0 {
		if err := p.writeEnvironment(ctx, sess, resolved); err != nil {
			return nil, &ProvisionError{Resource: "environment", Kind: "file", Err: err}
		}
	}
	return resolved, nil
}

// Resolve turns one spec into live connection facts.
func (p *Provisioner) Resolve(ctx context.Context, spec config.ResourceSpec) (*ResolvedResource, error) {
	switch spec.Kind {
	case config.ResourceDatabase:
		return p.resolveDatabase(ctx, spec)
	case config.ResourceBucket:
		return p.resolveBucket(ctx, spec)
	default:
		return nil, &ProvisionError{Resource: spec.Name, Kind: spec.Kind, Err: fmt.Errorf("unknown resource kind")}
	}
}

func (p *Provisioner) resolveDatabase(ctx context.Context, spec config.ResourceSpec) (*ResolvedResource, error) {
	fail := func(err error) (*ResolvedResource, error) {
		return nil, &ProvisionError{Resource: spec.Name, Kind: spec.Kind, Err: err}
	}

	db, err := p.db.DescribeDatabase(ctx, spec.Name)
	if controlplane.IsNotFound(err) {
		if !spec.CreateIfMissing {
			return fail(fmt.Errorf("database does not exist and createIfMissing is false"))
		}
		p.log.Info().Str("database", spec.Name).Msg("creating managed database")
		if db, err = p.db.CreateDatabase(ctx, spec.Name); err != nil {
			return fail(err)
		}
	} else if err != nil {
		return fail(err)
	}

	if db.State != controlplane.StateAvailable {
		if db, err = p.waitForDatabase(ctx, spec.Name); err != nil {
			return fail(err)
		}
	}

	cred, err := p.db.DatabaseCredentials(ctx, spec.Name)
	if err != nil {
		return fail(err)
	}

	r := &ResolvedResource{
		Kind:     spec.Kind,
		Name:     spec.Name,
		Host:     db.Host,
		Port:     db.Port,
		DBName:   db.DBName,
		Username: cred.Username,
		Password: cred.Password,
	}

	// One lightweight round-trip before declaring success. Starting the
	// application against an unreachable store fails later and worse.
	if err := p.pinger.Ping(ctx, r.DSN()); err != nil {
		return fail(fmt.Errorf("connectivity smoke test: %w", err))
	}

	p.log.Info().Str("database", spec.Name).Str("host", db.Host).Msg("database resolved")
	return r, nil
}

func (p *Provisioner) resolveBucket(ctx context.Context, spec config.ResourceSpec) (*ResolvedResource, error) {
	fail := func(err error) (*ResolvedResource, error) {
		return nil, &ProvisionError{Resource: spec.Name, Kind: spec.Kind, Err: err}
	}

	b, err := p.buckets.DescribeBucket(ctx, spec.Name)
	if controlplane.IsNotFound(err) {
		if !spec.CreateIfMissing {
			return fail(fmt.Errorf("bucket does not exist and createIfMissing is false"))
		}
		p.log.Info().Str("bucket", spec.Name).Msg("creating bucket")
		if b, err = p.buckets.CreateBucket(ctx, spec.Name); err != nil {
			return fail(err)
		}
	} else if err != nil {
		return fail(err)
	}

	if b.State != controlplane.StateActive {
		if b, err = p.waitForBucket(ctx, spec.Name); err != nil {
			return fail(err)
		}
	}

	if err := p.buckets.GrantBucketAccess(ctx, spec.Name, p.instanceID, string(spec.AccessLevel)); err != nil {
		return fail(fmt.Errorf("granting %s access: %w", spec.AccessLevel, err))
	}

	p.log.Info().Str("bucket", spec.Name).Str("region", b.Region).Msg("bucket resolved")
	return &ResolvedResource{
		Kind:       spec.Kind,
		Name:       spec.Name,
		BucketName: b.Name,
		Region:     b.Region,
	}, nil
}

func (p *Provisioner) waitForDatabase(ctx context.Context, name string) (*controlplane.Database, error) {
	deadline := time.Now().Add(availabilityTimeout)
	for {
		db, err := p.db.DescribeDatabase(ctx, name)
		if err == nil && db.State == controlplane.StateAvailable {
			return db, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("database not available within %s", availabilityTimeout)
		}
		select {
		case <-time.After(p.poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Provisioner) waitForBucket(ctx context.Context, name string) (*controlplane.Bucket, error) {
	deadline := time.Now().Add(availabilityTimeout)
	for {
		b, err := p.buckets.DescribeBucket(ctx, name)
		if err == nil && b.State == controlplane.StateActive {
			return b, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("bucket not active within %s", availabilityTimeout)
		}
		select {
		case <-time.After(p.poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
