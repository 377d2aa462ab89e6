package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tally/internal/api"
	"github.com/jackzampolin/tally/internal/batch"
	"github.com/jackzampolin/tally/internal/ingest"
	"github.com/jackzampolin/tally/internal/pipeline"
	"github.com/jackzampolin/tally/internal/server/endpoints"
)

var (
	runCategories      []string
	runOCRModel        string
	runCategorizeModel string
)

func addModelFlags(cmd *cobra.Command, ocr, categorize bool) {
	if ocr {
		cmd.Flags().StringVar(&runOCRModel, "ocr-model", "", "OCR model (config default when empty)")
	}
	if categorize {
		cmd.Flags().StringSliceVarP(&runCategories, "category", "c", nil, "Allowed category (repeatable; config default when empty)")
		cmd.Flags().StringVar(&runCategorizeModel, "categorize-model", "", "Categorization model (config default when empty)")
	}
}

var extractCmd = &cobra.Command{
	Use:   "extract <image>",
	Short: "Extract line items from a receipt image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := ingest.LoadFile(args[0])
		if err != nil {
			return err
		}
		svc, cleanup, err := buildServices()
		if err != nil {
			return err
		}
		defer cleanup()

		extractor, err := svc.Extractor()
		if err != nil {
			return err
		}
		req := svc.ProcessDefaults(pipeline.ProcessRequest{ExtractModel: runOCRModel})
		result, err := extractor.Extract(cmd.Context(), pipeline.ExtractRequest{
			Image:     img.Data,
			Model:     req.ExtractModel,
			SchemaRef: req.ExtractSchemaRef,
			PromptRef: req.ExtractPromptRef,
			TaskID:    ingest.TaskID(args[0]),
		})
		if err != nil {
			return err
		}
		return api.Output(result)
	},
}

var categorizeCmd = &cobra.Command{
	Use:   "categorize <items.json>",
	Short: "Categorize extracted line items",
	Long: `Categorize items from a JSON file. The file may hold a bare array of
items or an object with an "items" field, such as the output of
"tally extract -o json".

Items the model cannot place get the uncategorized sentinel.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := endpoints.ReadItemsFile(args[0])
		if err != nil {
			return err
		}
		svc, cleanup, err := buildServices()
		if err != nil {
			return err
		}
		defer cleanup()

		categorizer, err := svc.Categorizer()
		if err != nil {
			return err
		}
		req := svc.ProcessDefaults(pipeline.ProcessRequest{
			Categories:      runCategories,
			CategorizeModel: runCategorizeModel,
		})
		result, err := categorizer.Categorize(cmd.Context(), pipeline.CategorizeRequest{
			Items:      items,
			Categories: req.Categories,
			Model:      req.CategorizeModel,
			SchemaRef:  req.CategorizeSchemaRef,
			PromptRef:  req.CategorizePromptRef,
			TaskID:     ingest.TaskID(args[0]),
		})
		if err != nil {
			return err
		}
		return api.Output(result)
	},
}

var processCmd = &cobra.Command{
	Use:   "process <image>",
	Short: "Extract and categorize a receipt image",
	Example: `  tally process receipt.jpg
  tally process receipt.jpg -c Food -c Household -c Other -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := ingest.LoadFile(args[0])
		if err != nil {
			return err
		}
		svc, cleanup, err := buildServices()
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := svc.Pipeline()
		if err != nil {
			return err
		}
		result, err := p.Process(cmd.Context(), svc.ProcessDefaults(pipeline.ProcessRequest{
			TaskID:          ingest.TaskID(args[0]),
			Image:           img.Data,
			Categories:      runCategories,
			ExtractModel:    runOCRModel,
			CategorizeModel: runCategorizeModel,
		}))
		if err != nil {
			return err
		}
		return api.Output(result)
	},
}

var (
	batchConcurrency int
	batchRPS         float64
)

var batchCmd = &cobra.Command{
	Use:   "batch <image|dir>...",
	Short: "Process many receipt images concurrently",
	Long: `Process receipt images concurrently. Directories are expanded to the
images they contain. Files named like scan-1.jpg, scan-2.jpg are processed
in numeric order and results are reported in that order.

One failing image does not stop the others. The command exits non-zero
if any image failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := expandImagePaths(args)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no images found")
		}

		svc, cleanup, err := buildServices()
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := svc.Pipeline()
		if err != nil {
			return err
		}

		bcfg := svc.CurrentConfig().BatchConfig()
		if cmd.Flags().Changed("concurrency") {
			bcfg.MaxConcurrency = batchConcurrency
		}
		if cmd.Flags().Changed("rps") {
			bcfg.RequestsPerSecond = batchRPS
		}
		bcfg.Logger = svc.Logger

		base := svc.ProcessDefaults(pipeline.ProcessRequest{
			Categories:      runCategories,
			ExtractModel:    runOCRModel,
			CategorizeModel: runCategorizeModel,
		})
		results := batch.NewRunner(p, bcfg).Run(cmd.Context(), base, batch.JobsFromPaths(paths))
		if err := api.Output(results); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d images failed", failed, len(results))
		}
		return nil
	},
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// expandImagePaths replaces directories with the images directly inside them.
func expandImagePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}
	return paths, nil
}

func init() {
	addModelFlags(extractCmd, true, false)
	addModelFlags(categorizeCmd, false, true)
	addModelFlags(processCmd, true, true)
	addModelFlags(batchCmd, true, true)
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", batch.DefaultMaxConcurrency, "Images processed at once")
	batchCmd.Flags().Float64Var(&batchRPS, "rps", 0, "Max images started per second (0 = unlimited)")

	rootCmd.AddCommand(extractCmd, categorizeCmd, processCmd, batchCmd)
}
