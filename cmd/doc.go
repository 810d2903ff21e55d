// Package cmd implements the pixelpage command line.
//
// `pixelpage serve` runs the HTTP API. The create, list, show, and delete
// subcommands build the same service in-process against the configured
// backends, so they are only useful with durable storage (local or gcs) and a
// durable registry (sqlite or postgres).
//
// Configuration comes from --config (YAML), PIXELPAGE_* environment variables,
// and a .env file in the working directory when present.
package cmd
