package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pixelpage/internal/artifact"
	"github.com/JakeFAU/pixelpage/internal/pipeline"
	"github.com/JakeFAU/pixelpage/internal/server"
)

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var sourceURL, payload string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Fetch a page, inject a payload, and store the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(app *server.App) error {
				meta, err := app.Service().Create(cmd.Context(), pipeline.CreateRequest{
					SourceURL: sourceURL,
					Payload:   payload,
				})
				if err != nil {
					return fmt.Errorf("create artifact (%s): %w", artifact.KindOf(err), err)
				}
				return printJSON(cmd.OutOrStdout(), meta)
			})
		},
	}
	cmd.Flags().StringVar(&sourceURL, "url", "", "absolute http(s) URL of the source page")
	cmd.Flags().StringVar(&payload, "payload", "", "pixel id or raw markup to inject")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live artifacts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(app *server.App) error {
				metas, err := app.Service().List(cmd.Context())
				if err != nil {
					return fmt.Errorf("list artifacts: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), metas)
			})
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var body bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an artifact's metadata, or its stored page with --body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(app *server.App) error {
				if body {
					content, err := app.Service().Serve(cmd.Context(), args[0])
					if err != nil {
						return fmt.Errorf("serve artifact %s: %w", args[0], err)
					}
					_, err = cmd.OutOrStdout().Write(content.Body)
					return err
				}
				meta, err := app.Service().Lookup(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("lookup artifact %s: %w", args[0], err)
				}
				return printJSON(cmd.OutOrStdout(), meta)
			})
		},
	}
	cmd.Flags().BoolVar(&body, "body", false, "print the stored page instead of metadata")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(app *server.App) error {
				if err := app.Service().Delete(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("delete artifact %s: %w", args[0], err)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return err
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
