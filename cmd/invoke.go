package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"imgpipe/internal/pipeline"
)

var invokeCmd = &cobra.Command{
	Use:       "invoke <ingest|resize|watermark|metadata>",
	Short:     "Run one stage on a JSON event read from stdin",
	Long:      "Reads the stage's input event as JSON from stdin and writes its output as JSON to stdout.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{pipeline.StageIngest, pipeline.StageResize, pipeline.StageWatermark, pipeline.StageMetadata},
	RunE:      runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)
}

func runInvoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var out any
	switch args[0] {
	case pipeline.StageIngest, pipeline.StageMetadata:
		var req pipeline.APIRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if args[0] == pipeline.StageIngest {
			out = a.pipe.HandleIngest(ctx, req)
		} else {
			out = a.pipe.HandleMetadata(ctx, req)
		}
	case pipeline.StageResize:
		in, err := pipeline.ParseResizeInput(raw)
		if err != nil {
			return err
		}
		if out, err = a.pipe.Resize(ctx, in); err != nil {
			return err
		}
	case pipeline.StageWatermark:
		var in pipeline.WatermarkInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if out, err = a.pipe.Watermark(ctx, in); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
