// Package authscheme materializes per-scheme bearer authentication options
// from hierarchical configuration. Given a scheme name and a configuration
// source, Builder.Configure fills an Options record: issuer and audience
// allow-lists, per-issuer signing key material, timeouts, forwarding rules,
// and two purpose-scoped protectors for opaque token payloads.
//
// The package deliberately separates the pure materialization algorithm from
// its collaborators. Configuration trees come from confsource (in-memory or
// YAML file backed), protectors come from a protect.Factory, and the
// cryptographic verification of bearer tokens lives in the auth package, which
// consumes the records built here.
//
// # Materialization Rules
//
// Configure is override-or-keep-default: a field absent from configuration
// retains whatever value the record already carried, so callers express their
// defaults by pre-populating the record (or by handing the Registry a defaults
// template). Both protectors are assigned for every non-empty scheme name even
// when the scheme has no configuration at all. Present-but-malformed values
// are fatal: a FieldError or KeyDecodeError aborts the scheme's activation.
//
// # Lifecycle
//
// A configured Options record is a point-in-time snapshot. The Registry owns
// when records are rebuilt: it caches them per scheme name, supports explicit
// invalidation, and can subscribe to a watchable source so a configuration
// reload drops every cached record.
//
// Example:
//
//	src, err := yamlsource.New(yamlsource.Config{Path: "schemes.yaml"})
//	if err != nil { log.Fatal(err) }
//	factory, err := localprotect.New(ctx, memorystore.New())
//	if err != nil { log.Fatal(err) }
//
//	b := authscheme.NewBuilder(src, factory)
//	reg, err := authscheme.NewRegistry(b, authscheme.WithDefaults(&authscheme.Options{
//	    Challenge:            "Bearer",
//	    RequireHTTPSMetadata: true,
//	}))
//	if err != nil { log.Fatal(err) }
//
//	opts, err := reg.Get("api")
package authscheme
