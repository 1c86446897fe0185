package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docqa/backend/internal/evaluation"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/query"
	appLogger "github.com/docqa/backend/pkg/logger"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func askCmd(load configLoader) *cobra.Command {
	var workspace string
	var enrich bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from a workspace's documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			if workspace == "" {
				workspace = cfg.Workspace.Default
			}

			svc, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			resp, err := svc.engine.Answer(cmd.Context(), query.Request{
				Workspace: workspace,
				Question:  strings.Join(args, " "),
				Enrich:    enrich,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace to query")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "allow one web enrichment round when evidence is weak")

	return cmd
}

func ingestCmd(load configLoader) *cobra.Command {
	var workspace string
	var mode string

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Add text documents to a workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			if workspace == "" {
				workspace = cfg.Workspace.Default
			}

			svc, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			failed := 0
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}

				result, err := svc.processor.IngestText(cmd.Context(), ingestion.IngestRequest{
					Workspace:  workspace,
					Filename:   filepath.Base(path),
					Mime:       mime.TypeByExtension(filepath.Ext(path)),
					Content:    string(content),
					StorageURI: path,
					Mode:       mode,
				})
				if result == nil {
					return fmt.Errorf("failed to ingest %s: %w", path, err)
				}
				if result.Status == ingestion.StatusFailed {
					failed++
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tchunks=%d\n",
					result.Document.ID, result.Status, result.Document.Filename, result.Chunks)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "target workspace")
	cmd.Flags().StringVar(&mode, "mode", ingestion.ModeDedupe, "dedupe, version or reindex")

	return cmd
}

func reputationCmd(load configLoader) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "reputation",
		Short: "Inspect and maintain document reputation",
	}

	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute reputation counters from the feedback log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			if workspace == "" {
				workspace = cfg.Workspace.Default
			}

			svc, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.ledger.Rebuild(cmd.Context(), workspace)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt reputation for %d documents in %s\n", n, workspace)
			return nil
		},
	}
	rebuild.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace to rebuild")

	cmd.AddCommand(rebuild)
	return cmd
}

func evalCmd(load configLoader) *cobra.Command {
	var workspace string
	var enrich bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "eval [dataset.json]",
		Short: "Replay a question dataset and report answer confidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			if workspace == "" {
				workspace = cfg.Workspace.Default
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read dataset: %w", err)
			}
			dataset, err := evaluation.LoadDataset(data)
			if err != nil {
				return err
			}

			svc, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := evaluation.NewEvaluator(svc.engine, svc.embedder).
				RunDatasetEvaluation(cmd.Context(), workspace, dataset, enrich)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, report)
			}
			fmt.Fprint(cmd.OutOrStdout(), evaluation.GenerateReport(report))
			return nil
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace to query")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "allow web enrichment for each question")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")

	return cmd
}
