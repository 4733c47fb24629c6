package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/chronovox/internal/app"
	"github.com/MrWong99/chronovox/internal/pipeline"
)

func newEnrollCmd(g *globals) *cobra.Command {
	var dob string
	cmd := &cobra.Command{
		Use:   "enroll <user-id>",
		Short: "Create a speaker profile",
		Long: `Create a speaker profile. The user id is sanitized to letters, digits,
underscores and dashes.

Examples:
  chronovox enroll alice --dob 1990-05-17`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				p, err := a.Enroller().Create(cmd.Context(), args[0], dob)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&dob, "dob", "", "date of birth (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("dob")
	return cmd
}

func newVerifyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <user-id> <sample.wav>",
		Short: "Submit a recorded sample for a speaker",
		Long: `Verify a WAV recording against the speaker's stored versions and store
it as a new version when accepted. The outcome is printed as JSON; a
rejected sample exits non-zero.

Examples:
  chronovox verify alice recording.wav`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				v := a.Verifier()
				if v == nil {
					return errors.New("verify needs providers.embeddings in the config")
				}
				out := v.ProcessFile(cmd.Context(), pipeline.SanitizeUserID(args[0]), args[1])
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				if rej, ok := out.(pipeline.Rejected); ok {
					return fmt.Errorf("sample rejected: %s", rej.Reason)
				}
				return nil
			})
		},
	}
}

func newPlayCmd(g *globals) *cobra.Command {
	var (
		targetAge float64
		text      string
		versionID int64
	)
	cmd := &cobra.Command{
		Use:   "play <user-id>",
		Short: "Resolve playback for a speaker at a target age",
		Long: `Choose between a stored recording and an age-rendered voice for the
target age, render if needed, and print the result as JSON. With --text
and a configured TTS provider the aged voice is synthesized.

Examples:
  chronovox play alice --age 8
  chronovox play alice --age 75 --text "Good morning."
  chronovox play alice --age 30 --version 1700000000000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.App) error {
				res, err := a.Playback().Play(cmd.Context(), pipeline.SanitizeUserID(args[0]), targetAge, text, versionID)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().Float64Var(&targetAge, "age", 0, "target age in years")
	cmd.Flags().StringVar(&text, "text", "", "text to synthesize in the aged voice")
	cmd.Flags().Int64Var(&versionID, "version", 0, "play this stored version verbatim")
	_ = cmd.MarkFlagRequired("age")
	return cmd
}

// withApp opens the application, runs fn and shuts it down again.
func (g *globals) withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	a, _, err := g.openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	}()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
