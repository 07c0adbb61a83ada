package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/dataset"
	"github.com/xaenox/task-extractor/internal/labeling"
	"github.com/xaenox/task-extractor/internal/predictor"
	"github.com/xaenox/task-extractor/internal/rules"
	"github.com/xaenox/task-extractor/internal/training"
)

var (
	dataPath        string
	modelName       string
	modelVersion    string
	epochs          int
	batchSize       int
	learningRate    float64
	freezeEmbedding bool
	inPath          string
	outPath         string
	statuses        []string
	useGPT          bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a new model from a dataset file",
	Args:  cobra.NoArgs,
	RunE:  runTrain,
}

var finetuneCmd = &cobra.Command{
	Use:   "finetune",
	Short: "Fine-tune a saved model on additional examples",
	Long: `Fine-tune loads --model at --version (latest by default), keeps its
vocabulary and status labels, and saves the result as <model>_finetuned.`,
	Args: cobra.NoArgs,
	RunE: runFineTune,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect saved models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List saved versions, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModelsList,
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <name> <version>",
	Short: "Delete one saved version",
	Args:  cobra.ExactArgs(2),
	RunE:  runModelsDelete,
}

var predictCmd = &cobra.Command{
	Use:   "predict <text>",
	Short: "Extract task attributes and status from text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPredict,
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Turn a file of raw task texts (one per line) into a training dataset",
	Long: `label runs the rule engine over every line of --in and assigns a status
with keyword matching, or with the configured OpenAI model when --gpt is set
and an API key is available. The dataset is written to --out as JSON or YAML
depending on the extension.`,
	Args: cobra.NoArgs,
	RunE: runLabel,
}

func init() {
	for _, cmd := range []*cobra.Command{trainCmd, finetuneCmd} {
		cmd.Flags().StringVarP(&dataPath, "data", "d", "", "Dataset file (.json, .yaml or .yml)")
		cmd.Flags().IntVar(&epochs, "epochs", 0, "Epochs (default from config)")
		cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Batch size (default from config)")
		cmd.Flags().Float64Var(&learningRate, "lr", 0, "Learning rate (default from config)")
		_ = cmd.MarkFlagRequired("data")
	}
	trainCmd.Flags().StringVarP(&modelName, "model", "m", "", "Model name (default <default_name>_YYYYMMDD)")

	finetuneCmd.Flags().StringVarP(&modelName, "model", "m", "", "Base model name")
	finetuneCmd.Flags().StringVar(&modelVersion, "version", "", "Base model version (default latest)")
	finetuneCmd.Flags().BoolVar(&freezeEmbedding, "freeze-embedding", false, "Keep the embedding layer fixed")
	_ = finetuneCmd.MarkFlagRequired("model")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsDeleteCmd)

	predictCmd.Flags().StringVarP(&modelName, "model", "m", "", "Model name (default from config)")
	predictCmd.Flags().StringVar(&modelVersion, "version", "", "Model version (default latest)")

	labelCmd.Flags().StringVarP(&inPath, "in", "i", "", "Text file with one task per line")
	labelCmd.Flags().StringVarP(&outPath, "out", "o", "", "Dataset file to write")
	labelCmd.Flags().StringSliceVar(&statuses, "statuses", labeling.DefaultStatuses, "Allowed statuses")
	labelCmd.Flags().BoolVar(&useGPT, "gpt", false, "Label statuses with the OpenAI model")
	_ = labelCmd.MarkFlagRequired("in")
	_ = labelCmd.MarkFlagRequired("out")
}

func hyperparams() training.Hyperparams {
	return training.Hyperparams{Epochs: epochs, BatchSize: batchSize, LearningRate: learningRate}
}

func runTrain(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	examples, err := dataset.Load(dataPath)
	if err != nil {
		return err
	}

	engine, closeRuns, err := e.engine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeRuns()

	result, err := engine.TrainNewModel(cmd.Context(), training.TrainRequest{
		Examples:    examples,
		ModelName:   modelName,
		Hyperparams: hyperparams(),
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func runFineTune(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	examples, err := dataset.Load(dataPath)
	if err != nil {
		return err
	}

	engine, closeRuns, err := e.engine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeRuns()

	result, err := engine.FineTuneModel(cmd.Context(), training.FineTuneRequest{
		ModelName:       modelName,
		Version:         modelVersion,
		Examples:        examples,
		FreezeEmbedding: freezeEmbedding,
		Hyperparams:     hyperparams(),
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	listing, err := e.store.List(cmd.Context(), name)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(listing))
	for n := range listing {
		names = append(names, n)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tVERSION\tSAVED\tVOCAB\tSTATUSES")
	for _, n := range names {
		for _, m := range listing[n] {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				n, m.Version, m.SavedAt.Format("2006-01-02 15:04:05"), m.VocabSize, strings.Join(m.Classes, ","))
		}
	}
	return w.Flush()
}

func runModelsDelete(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	deleted, err := e.store.Delete(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("model %s version %s not found", args[0], args[1])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", args[0], args[1])
	return nil
}

func runPredict(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	svc, err := predictor.NewService(e.store, rules.NewEngine(), predictor.Config{
		CacheCapacity: e.cfg.Cache.Capacity,
		MaxTextLen:    e.cfg.Model.MaxTextLen,
	}, e.logger)
	if err != nil {
		return err
	}

	name := modelName
	if name == "" {
		name = e.cfg.Model.DefaultName
	}
	if _, err := svc.LoadModel(cmd.Context(), name, modelVersion); err != nil {
		return err
	}

	result, err := svc.Predict(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func runLabel(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	texts, err := readLines(inPath)
	if err != nil {
		return err
	}

	var labeler labeling.Labeler = labeling.KeywordLabeler{}
	if useGPT {
		if e.cfg.OpenAI.APIKey == "" {
			return fmt.Errorf("--gpt needs openai.api_key or OPENAI_API_KEY")
		}
		labeler = labeling.NewGPTLabeler(labeling.GPTConfig{
			APIKey:      e.cfg.OpenAI.APIKey,
			BaseURL:     e.cfg.OpenAI.BaseURL,
			Model:       e.cfg.OpenAI.Model,
			MaxTokens:   e.cfg.OpenAI.MaxTokens,
			Temperature: e.cfg.OpenAI.Temperature,
		}, e.logger)
	}

	examples, err := labeling.BuildExamples(cmd.Context(), rules.NewEngine(), labeler, texts, statuses, e.logger)
	if err != nil {
		return err
	}
	if err := dataset.Write(outPath, examples); err != nil {
		return err
	}

	e.logger.Info("Dataset written",
		zap.String("path", outPath),
		zap.Int("examples", len(examples)),
		zap.Int("skipped", len(texts)-len(examples)))
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
